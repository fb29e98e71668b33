package command

import (
	"context"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

type ExecutionWriteModel struct {
	WriteModel

	Targets []domain.ExecutionTarget
	Exists  bool
}

func NewExecutionWriteModel(instanceID, executionID string) *ExecutionWriteModel {
	return &ExecutionWriteModel{
		WriteModel: WriteModel{InstanceID: instanceID, AggregateID: executionID},
	}
}

func (wm *ExecutionWriteModel) Query() *eventstore.SearchQuery {
	return eventstore.NewSearchQuery(wm.InstanceID).
		WithAggregate(domain.AggregateExecution, wm.AggregateID)
}

func (wm *ExecutionWriteModel) Reduce(event *domain.Event) error {
	wm.AppendEvent(event)
	switch domain.Normalize(event.Type) {
	case domain.ExecutionSetType:
		var payload domain.ExecutionSet
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		wm.Targets = payload.Targets
		wm.Exists = true
	case domain.ExecutionRemovedType:
		wm.Targets = nil
		wm.Exists = false
	}
	return nil
}

func (wm *ExecutionWriteModel) aggregate() domain.Aggregate {
	return domain.Aggregate{
		InstanceID: wm.InstanceID,
		Type:       domain.AggregateExecution,
		ID:         wm.AggregateID,
		Owner:      wm.InstanceID,
	}
}

// SetExecution binds an ordered target list to a hook condition, replacing
// any previous list. The list must be non-empty (RemoveExecution unbinds a
// condition), every target reference must name an active target, every
// include must name a configured execution, and the include graph must stay
// acyclic.
func (c *Commands) SetExecution(ctx context.Context, condition domain.ExecutionCondition, targets []domain.ExecutionTarget) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := condition.Validate(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errs.ThrowInvalid(nil, "COMMAND-exec-empty", "target list must not be empty")
	}
	for _, target := range targets {
		if err := validateExecutionTarget(target); err != nil {
			return nil, err
		}
	}

	executionID := condition.ID()
	wm := NewExecutionWriteModel(actor.InstanceID, executionID)
	return c.pushDetails(ctx, "execution.set", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewExecutionWriteModel(actor.InstanceID, executionID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}

		graph, err := c.loadExecutionGraph(ctx, actor.InstanceID)
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			switch target.Type {
			case domain.ExecutionTargetTypeTarget:
				tw := NewTargetWriteModel(actor.InstanceID, target.TargetID)
				if err := c.loadExistingTarget(ctx, tw); err != nil {
					return nil, err
				}
			case domain.ExecutionTargetTypeInclude:
				if _, ok := graph[target.IncludeID]; !ok {
					return nil, errs.ThrowNotFound(nil, "COMMAND-exec-include-notfound", "included execution %s is not configured", target.IncludeID)
				}
			}
		}

		graph[executionID] = targets
		if err := checkIncludeCycle(graph, executionID); err != nil {
			return nil, err
		}

		if wm.Exists && executionTargetsEqual(wm.Targets, targets) {
			return nil, nil
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ExecutionSetType,
			Payload:        domain.ExecutionSet{Targets: targets},
			Creator:        actor.UserID,
		}}, nil
	})
}

// RemoveExecution unbinds a condition. Executions including the removed
// node keep the dangling include; the dispatcher resolves it to nothing.
func (c *Commands) RemoveExecution(ctx context.Context, condition domain.ExecutionCondition) (*domain.ObjectDetails, error) {
	actor, err := domain.ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := condition.Validate(); err != nil {
		return nil, err
	}

	executionID := condition.ID()
	wm := NewExecutionWriteModel(actor.InstanceID, executionID)
	return c.pushDetails(ctx, "execution.remove", &wm.WriteModel, func(ctx context.Context) ([]*domain.Command, error) {
		*wm = *NewExecutionWriteModel(actor.InstanceID, executionID)
		if err := c.load(ctx, wm); err != nil {
			return nil, err
		}
		if !wm.Exists {
			return nil, errs.ThrowNotFound(nil, "COMMAND-exec-notfound", "execution %s is not configured", executionID)
		}
		return []*domain.Command{{
			Aggregate:      wm.aggregate(),
			CurrentVersion: wm.Version,
			Type:           domain.ExecutionRemovedType,
			Creator:        actor.UserID,
		}}, nil
	})
}

func validateExecutionTarget(target domain.ExecutionTarget) error {
	switch target.Type {
	case domain.ExecutionTargetTypeTarget:
		if target.TargetID == "" || target.IncludeID != "" {
			return errs.ThrowInvalid(nil, "COMMAND-exec-target-ref", "a target entry must carry exactly a target id")
		}
	case domain.ExecutionTargetTypeInclude:
		if target.IncludeID == "" || target.TargetID != "" {
			return errs.ThrowInvalid(nil, "COMMAND-exec-include-ref", "an include entry must carry exactly an include id")
		}
		if _, _, err := domain.ParseExecutionID(target.IncludeID); err != nil {
			return err
		}
	default:
		return errs.ThrowInvalid(nil, "COMMAND-exec-entry-type", "unknown execution entry type %q", target.Type)
	}
	return nil
}

// loadExecutionGraph folds every execution aggregate of the instance into
// an adjacency map of configured nodes.
func (c *Commands) loadExecutionGraph(ctx context.Context, instanceID string) (map[string][]domain.ExecutionTarget, error) {
	events, err := c.es.Filter(ctx, eventstore.NewSearchQuery(instanceID).
		WithAggregate(domain.AggregateExecution))
	if err != nil {
		return nil, err
	}

	models := make(map[string]*ExecutionWriteModel)
	for i := range events {
		wm, ok := models[events[i].AggregateID]
		if !ok {
			wm = NewExecutionWriteModel(instanceID, events[i].AggregateID)
			models[events[i].AggregateID] = wm
		}
		if err := wm.Reduce(&events[i]); err != nil {
			return nil, err
		}
	}

	graph := make(map[string][]domain.ExecutionTarget, len(models))
	for id, wm := range models {
		if wm.Exists {
			graph[id] = wm.Targets
		}
	}
	return graph, nil
}

// checkIncludeCycle walks the include edges from start and fails when the
// walk returns to a node already on the path.
func checkIncludeCycle(graph map[string][]domain.ExecutionTarget, start string) error {
	visited := make(map[string]bool)
	var walk func(id string) error
	walk = func(id string) error {
		if visited[id] {
			return errs.ThrowInvalid(nil, "COMMAND-exec-cycle", "execution %s would include itself through %s", start, id)
		}
		visited[id] = true
		for _, target := range graph[id] {
			if target.Type != domain.ExecutionTargetTypeInclude {
				continue
			}
			if err := walk(target.IncludeID); err != nil {
				return err
			}
		}
		visited[id] = false
		return nil
	}
	return walk(start)
}

func executionTargetsEqual(a, b []domain.ExecutionTarget) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
