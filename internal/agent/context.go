package agent

import "context"

// TurnInfo identifies the executing turn for collaborators that run
// inside it, such as tools that need to know which conversation and
// agent they act for.
type TurnInfo struct {
	ConversationID string
	AgentPubkey    string
	AgentSlug      string
	TriggerEventID string
}

type turnInfoKey struct{}

// WithTurnInfo attaches turn identity to the context.
func WithTurnInfo(ctx context.Context, info TurnInfo) context.Context {
	return context.WithValue(ctx, turnInfoKey{}, info)
}

// TurnInfoFrom extracts the turn identity installed by WithTurnInfo.
func TurnInfoFrom(ctx context.Context) (TurnInfo, bool) {
	info, ok := ctx.Value(turnInfoKey{}).(TurnInfo)
	return info, ok
}
