// Package fulfillment is the request state machine and the organizer and
// deliverer operations built on it.
package fulfillment

import (
	"fmt"
	"slices"

	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/models"
)

type ActorKind string

const (
	ActorLottery   ActorKind = "lottery"
	ActorChef      ActorKind = "chef"
	ActorDeliverer ActorKind = "deliverer"
	ActorOrganizer ActorKind = "organizer"
	ActorSystem    ActorKind = "system"
)

// Actor is who triggers a transition. VolunteerID is zero for the lottery
// and the system.
type Actor struct {
	Kind        ActorKind
	VolunteerID int64
}

func (a Actor) String() string {
	if a.VolunteerID == 0 {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s:%d", a.Kind, a.VolunteerID)
}

var (
	Lottery = Actor{Kind: ActorLottery}
	System  = Actor{Kind: ActorSystem}
)

func Organizer(id int64) Actor { return Actor{Kind: ActorOrganizer, VolunteerID: id} }
func Chef(id int64) Actor      { return Actor{Kind: ActorChef, VolunteerID: id} }
func Deliverer(id int64) Actor { return Actor{Kind: ActorDeliverer, VolunteerID: id} }

// Edge is one legal move. Category, when set, limits the edge to that
// category.
type Edge struct {
	From     models.Status
	To       models.Status
	Actors   []ActorKind
	Category models.Category
}

// Edges is the complete transition table. Anything not listed is refused.
var Edges = []Edge{
	{From: models.StatusSubmitted, To: models.StatusSelected, Actors: []ActorKind{ActorLottery, ActorOrganizer}},
	{From: models.StatusSubmitted, To: models.StatusNotSelected, Actors: []ActorKind{ActorLottery}},

	{From: models.StatusSelected, To: models.StatusChefAssigned, Actors: []ActorKind{ActorChef}, Category: models.CategoryMeal},
	{From: models.StatusSelected, To: models.StatusChefAssigned, Actors: []ActorKind{ActorOrganizer}, Category: models.CategoryGrocery},

	{From: models.StatusChefAssigned, To: models.StatusDriverAssigned, Actors: []ActorKind{ActorDeliverer, ActorChef}},
	{From: models.StatusDriverAssigned, To: models.StatusDateConfirmed, Actors: []ActorKind{ActorOrganizer}},

	{From: models.StatusChefAssigned, To: models.StatusRescheduled, Actors: []ActorKind{ActorOrganizer, ActorDeliverer}},
	{From: models.StatusDriverAssigned, To: models.StatusRescheduled, Actors: []ActorKind{ActorOrganizer, ActorDeliverer}},
	{From: models.StatusDateConfirmed, To: models.StatusRescheduled, Actors: []ActorKind{ActorOrganizer, ActorDeliverer}},
	{From: models.StatusRescheduled, To: models.StatusChefAssigned, Actors: []ActorKind{ActorOrganizer}},

	{From: models.StatusDriverAssigned, To: models.StatusDelivered, Actors: []ActorKind{ActorDeliverer}},
	{From: models.StatusDateConfirmed, To: models.StatusDelivered, Actors: []ActorKind{ActorDeliverer}},
}

// Check returns nil when actor may move a request of category c from -> to.
// A move missing from the table is a *errs.TransitionError; a listed move by
// the wrong actor is errs.ErrPermissionDenied.
func Check(c models.Category, from, to models.Status, actor ActorKind) error {
	if from.Terminal() {
		return &errs.TransitionError{From: string(from), To: string(to), Reason: "terminal state"}
	}
	found := false
	for _, e := range Edges {
		if e.From != from || e.To != to || (e.Category != "" && e.Category != c) {
			continue
		}
		found = true
		if slices.Contains(e.Actors, actor) {
			return nil
		}
	}
	if found {
		return fmt.Errorf("%w: %s may not move %s -> %s", errs.ErrPermissionDenied, actor, from, to)
	}
	return &errs.TransitionError{From: string(from), To: string(to)}
}

// Reachable reports whether to can be reached from Submitted through the
// forward edges.
func Reachable(to models.Status) bool {
	seen := map[models.Status]bool{models.StatusSubmitted: true}
	queue := []models.Status{models.StatusSubmitted}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, e := range Edges {
			if e.From == s && !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen[to]
}
