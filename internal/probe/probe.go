package probe

import (
	"context"

	"github.com/convomesh/sentinel/internal/domain"
)

// Strategy executes one check definition. Implementations catch every
// failure of their own and encode it in the result; nothing escapes to the
// caller as an error.
type Strategy interface {
	Run(ctx context.Context, def domain.CheckDefinition) domain.CheckResult
}

// Executor dispatches a definition to the strategy for its type. The switch
// is exhaustive over domain.CheckType so a new check type is a compile-time
// visible change here.
type Executor struct {
	HTTP     Strategy
	WS       Strategy
	RoomEcho Strategy
	Journey  Strategy
}

func (e *Executor) Execute(ctx context.Context, def domain.CheckDefinition) domain.CheckResult {
	switch def.Type {
	case domain.CheckHTTP:
		return e.run(ctx, e.HTTP, def)
	case domain.CheckWSS:
		return e.run(ctx, e.WS, def)
	case domain.CheckRoomEcho:
		return e.run(ctx, e.RoomEcho, def)
	case domain.CheckJourney:
		return e.run(ctx, e.Journey, def)
	default:
		return domain.CheckResult{OK: false, ErrorText: "Unknown check type: " + string(def.Type)}
	}
}

func (e *Executor) run(ctx context.Context, s Strategy, def domain.CheckDefinition) domain.CheckResult {
	if s == nil {
		err := &domain.SkippedError{Reason: string(def.Type) + " strategy not configured"}
		return domain.CheckResult{OK: false, ErrorText: err.Error()}
	}
	return s.Run(ctx, def)
}
