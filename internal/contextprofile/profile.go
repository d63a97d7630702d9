package contextprofile

import (
	"context"
	"fmt"
	"strings"

	"shellsage/internal/config"
	"shellsage/internal/logging"
	"shellsage/internal/state"
)

// Prepared is the request window returned by a profile before an LLM call.
type Prepared struct {
	Messages []state.Message
	Stats    WindowStats
}

// Profile decides which messages are sent on each round trip.
type Profile interface {
	Prepare(ctx context.Context, conv *state.Conversation, anchor string) (Prepared, error)
}

// ConfigReloadable is implemented by profiles that pick up config changes.
type ConfigReloadable interface {
	ReloadConfig(cfg config.Config) error
}

// Dependencies bundles the resources profiles may require.
type Dependencies struct {
	Logger *logging.Logger
	Config config.Config
}

// New selects the requested profile by name.
func New(name string, deps Dependencies) (Profile, error) {
	switch strings.ToLower(name) {
	case "", "window":
		p := &windowProfile{logger: deps.Logger.With("context")}
		if err := p.ReloadConfig(deps.Config); err != nil {
			return nil, err
		}
		return p, nil
	case "full":
		return fullProfile{}, nil
	default:
		return nil, fmt.Errorf("unknown context profile %s", name)
	}
}

type windowProfile struct {
	opts   WindowOptions
	logger *logging.Logger
}

func (p *windowProfile) Prepare(ctx context.Context, conv *state.Conversation, anchor string) (Prepared, error) {
	if err := ctx.Err(); err != nil {
		return Prepared{}, err
	}
	msgs, stats := buildWindow(conv.Messages(), anchor, p.opts)
	if stats.Dropped > 0 || stats.Compressed > 0 {
		p.logger.Dev("window: dropped=%d compressed=%d original_task=%v", stats.Dropped, stats.Compressed, stats.OriginalTaskInserted)
	}
	return Prepared{Messages: msgs, Stats: stats}, nil
}

func (p *windowProfile) ReloadConfig(cfg config.Config) error {
	p.opts = WindowOptions{
		MaxMessages:        cfg.Agent.WindowMessages,
		RecentUncompressed: cfg.Agent.WindowRecent,
		CompressMinLines:   cfg.Agent.CompressMinLines,
	}
	return nil
}

// fullProfile sends the anchor plus the entire history.
type fullProfile struct{}

func (fullProfile) Prepare(_ context.Context, conv *state.Conversation, anchor string) (Prepared, error) {
	msgs := append([]state.Message{{Role: state.RoleSystem, Content: anchor}}, conv.Messages()...)
	return Prepared{Messages: msgs}, nil
}
