// Package router decides what happens to each newly ingested message: session
// toggles, one-shot commands, inline answers, media jobs and group digests.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/zapbot/internal/bot/handlers"
	"github.com/edgard/zapbot/internal/cache"
	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/gateway"
	"github.com/edgard/zapbot/internal/gemini"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/metrics"
	"github.com/edgard/zapbot/internal/session"
)

// Toggle command names.
const (
	ToggleSupport = "suporte"
	ToggleEnd     = "encerrar"
)

// Action names the routing outcome of a message, as recorded in metrics.
type Action string

const (
	ActionIgnored       Action = "ignored"
	ActionSupportStart  Action = "support_start"
	ActionSupportUsage  Action = "support_usage"
	ActionSupportEnd    Action = "support_end"
	ActionSupportAnswer Action = "support_answer"
	ActionCommand       Action = "command"
	ActionUnknown       Action = "unknown_command"
	ActionMedia         Action = "media"
	ActionAnswer        Action = "answer"
	ActionGroupSummary  Action = "group_summary"
	ActionGroupRecent   Action = "group_recent"
)

// Store is the slice of the message store used while routing.
type Store interface {
	GetRecentMessagesInChat(ctx context.Context, chatID string, limit int) ([]*database.Message, error)
	MarkMessageProcessed(ctx context.Context, id string, at time.Time) error
}

// Answerer produces the two inline replies.
type Answerer interface {
	Answer(ctx context.Context, history []*database.Message, question string) (string, error)
	AnswerFromKnowledge(ctx context.Context, question string, passages []gemini.Passage) (string, error)
}

// Deps provides dependencies for the router.
type Deps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     Store
	AI        Answerer
	Knowledge handlers.Searcher
	Cache     cache.Cache
	Queue     jobs.Enqueuer
	Commands  map[string]handlers.RegisteredHandler
	Sessions  *session.Store
	Locks     *session.KeyedMutex
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Router routes ingested messages.
type Router struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a router. Nil Sessions and Locks get fresh instances.
func New(deps Deps) *Router {
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore()
	}
	if deps.Locks == nil {
		deps.Locks = session.NewKeyedMutex()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Router{deps: deps, logger: deps.Logger.With("component", "router")}
}

// Route handles one newly created message. Messages sent by the bot itself
// are not routed.
func (r *Router) Route(ctx context.Context, msg *database.Message) error {
	if msg.FromMe {
		return nil
	}

	var (
		action Action
		err    error
	)
	if msg.IsGroup || gateway.IsGroupChat(msg.ChatID) {
		action, err = r.routeGroup(ctx, msg)
	} else {
		action, err = r.routeDirect(ctx, msg)
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.Routed(string(action))
	}
	if err != nil {
		return fmt.Errorf("route %s (%s): %w", msg.ID, action, err)
	}
	r.logger.DebugContext(ctx, "Message routed", "message_id", msg.ID, "chat_id", msg.ChatID, "action", action)
	return nil
}

// decision is the outcome of a session transition, carried out after the
// chat lock is released.
type decision struct {
	action   Action
	reply    string
	category string
	command  Command
}

// transition reads and updates the chat's session. It runs under the chat
// lock and performs no I/O.
func (r *Router) transition(msg *database.Message, cmd Command) decision {
	cfg := r.deps.Config
	category, active := r.deps.Sessions.Get(msg.ChatID)

	if cmd.Kind == CommandToggle {
		switch cmd.Name {
		case ToggleSupport:
			requested := strings.ToLower(firstWord(cmd.Args))
			if requested == "" {
				return decision{action: ActionSupportUsage, reply: cfg.Messages.SupportUsage}
			}
			r.deps.Sessions.Activate(msg.ChatID, requested)
			return decision{action: ActionSupportStart, reply: fmt.Sprintf(cfg.Messages.SupportActivated, requested), category: requested}
		case ToggleEnd:
			if r.deps.Sessions.End(msg.ChatID) {
				return decision{action: ActionSupportEnd, reply: cfg.Messages.SupportFarewell, category: category}
			}
			return decision{action: ActionIgnored}
		default:
			return decision{action: ActionUnknown, command: cmd}
		}
	}

	if active {
		if msg.Type == database.MessageText && isThanks(msg.Content, cfg.Router.ThanksToken) {
			r.deps.Sessions.End(msg.ChatID)
			return decision{action: ActionSupportEnd, reply: cfg.Messages.SupportFarewell, category: category}
		}
		if msg.Type.IsMedia() {
			return decision{action: ActionMedia}
		}
		if strings.TrimSpace(msg.Content) == "" {
			return decision{action: ActionIgnored}
		}
		return decision{action: ActionSupportAnswer, category: category}
	}

	switch {
	case cmd.Kind == CommandOneShot:
		if _, ok := r.deps.Commands[cmd.Name]; !ok {
			return decision{action: ActionUnknown, command: cmd}
		}
		return decision{action: ActionCommand, command: cmd}
	case msg.Type.IsMedia():
		return decision{action: ActionMedia}
	case strings.TrimSpace(msg.Content) == "":
		return decision{action: ActionIgnored}
	default:
		return decision{action: ActionAnswer}
	}
}

func (r *Router) routeDirect(ctx context.Context, msg *database.Message) (Action, error) {
	cmd := Parse(msg.Content, r.deps.Config.Router.CommandPrefix)

	unlock := r.deps.Locks.Lock(msg.ChatID)
	d := r.transition(msg, cmd)
	unlock()

	log := r.logger.With("message_id", msg.ID, "chat_id", msg.ChatID, "action", d.action)

	switch d.action {
	case ActionSupportStart, ActionSupportUsage, ActionSupportEnd:
		log.InfoContext(ctx, "Support session transition", "category", d.category)
		return d.action, r.reply(ctx, msg, d.reply, string(d.action))

	case ActionSupportAnswer:
		return d.action, r.reply(ctx, msg, r.supportAnswer(ctx, msg, d.category), "support:"+d.category)

	case ActionCommand:
		return d.action, r.runCommand(ctx, msg, d.command)

	case ActionUnknown:
		log.InfoContext(ctx, "Ignoring unknown command", "command", d.command.Name, "kind", d.command.Kind)
		return d.action, r.markProcessed(ctx, msg)

	case ActionMedia:
		handle, err := jobs.EnqueueMedia(ctx, r.deps.Queue, msg)
		if err != nil {
			return d.action, err
		}
		log.InfoContext(ctx, "Media job queued", "job_id", handle.ID, "kind", msg.Type, "existing", handle.Existing)
		return d.action, nil

	case ActionAnswer:
		return d.action, r.reply(ctx, msg, r.answer(ctx, msg), "answer")

	default:
		return ActionIgnored, r.markProcessed(ctx, msg)
	}
}

// supportAnswer grounds an inline answer on the active category. It never
// fails; errors become the configured fallback texts.
func (r *Router) supportAnswer(ctx context.Context, msg *database.Message, category string) string {
	cfg := r.deps.Config
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.AI)
	defer cancel()

	results, err := r.deps.Knowledge.Search(ctx, msg.Content, category)
	if err != nil {
		r.logger.WarnContext(ctx, "Knowledge search failed", "chat_id", msg.ChatID, "category", category, "error", err)
		return cfg.Messages.NoAnswer
	}
	if len(results) == 0 {
		return cfg.Messages.NoAnswer
	}

	passages := make([]gemini.Passage, len(results))
	for i, res := range results {
		passages[i] = gemini.Passage{Content: res.Content, Source: res.Source}
	}
	answer, err := r.deps.AI.AnswerFromKnowledge(ctx, msg.Content, passages)
	if err != nil {
		r.logger.ErrorContext(ctx, "Grounded answer failed", "chat_id", msg.ChatID, "category", category, "error", err)
		return cfg.Messages.Apology
	}
	return answer
}

// answer replies to plain text using the chat's recent history as context.
func (r *Router) answer(ctx context.Context, msg *database.Message) string {
	cfg := r.deps.Config

	var history []*database.Message
	if n := cfg.Router.HistoryMessages; n > 0 {
		storeCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Store)
		recent, err := r.deps.Store.GetRecentMessagesInChat(storeCtx, msg.ChatID, n+1)
		cancel()
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to load history, answering without it", "chat_id", msg.ChatID, "error", err)
		}
		for _, m := range recent {
			if m.ID != msg.ID {
				history = append(history, m)
			}
		}
		if len(history) > n {
			history = history[len(history)-n:]
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.AI)
	defer cancel()
	reply, err := r.deps.AI.Answer(ctx, history, msg.Content)
	if err != nil {
		r.logger.ErrorContext(ctx, "Inline answer failed", "chat_id", msg.ChatID, "error", err)
		return cfg.Messages.Apology
	}
	return reply
}

// runCommand dispatches a one-shot command. The message is always marked
// processed afterwards and exactly one reply results, either here or from
// the job the command queued.
func (r *Router) runCommand(ctx context.Context, msg *database.Message, cmd Command) (err error) {
	defer func() {
		if markErr := r.markProcessed(ctx, msg); err == nil {
			err = markErr
		}
	}()

	h := r.deps.Commands[cmd.Name]
	reply, cmdErr := h.Func()(ctx, msg, cmd.Args)
	if cmdErr != nil {
		r.logger.ErrorContext(ctx, "Command failed", "command", cmd.Name, "chat_id", msg.ChatID, "error", cmdErr)
		reply = r.deps.Config.Messages.CommandFailed
	}
	if reply == "" {
		return nil
	}
	_, err = jobs.EnqueueReply(ctx, r.deps.Queue, jobs.ResponsePayload{
		ChatID:  msg.ChatID,
		Content: reply,
		Context: "command:" + cmd.Name,
	})
	return err
}

func (r *Router) routeGroup(ctx context.Context, msg *database.Message) (Action, error) {
	cfg := r.deps.Config
	cmd := Parse(msg.Content, cfg.Router.CommandPrefix)

	wantsSummary := cmd.Kind == CommandOneShot && cmd.Name == "resumo"
	if !wantsSummary && cfg.Summary.Keyword != "" {
		wantsSummary = strings.Contains(strings.ToLower(msg.Content), strings.ToLower(cfg.Summary.Keyword))
	}

	if wantsSummary {
		period := cfg.Summary.DefaultPeriod
		if requested := strings.ToLower(firstWord(cmd.Args)); cmd.Kind == CommandOneShot && requested != "" {
			if _, ok := cfg.Summary.Period(requested); ok {
				period = requested
			}
		}
		handle, err := jobs.EnqueueSummary(ctx, r.deps.Queue, jobs.SummaryPayload{ChatID: msg.ChatID, Period: period}, jobs.PriorityInteractive)
		if err != nil {
			return ActionGroupSummary, err
		}
		r.logger.InfoContext(ctx, "Group summary queued", "chat_id", msg.ChatID, "period", period, "job_id", handle.ID, "existing", handle.Existing)
		return ActionGroupSummary, r.markProcessed(ctx, msg)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Cache)
	err := r.deps.Cache.Append(cacheCtx, cache.RecentKey(msg.ChatID), gemini.FormatMessage(msg), cfg.Router.RecentCacheSize, cfg.Router.RecentCacheTTL)
	cancel()
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to append to recent cache", "chat_id", msg.ChatID, "error", err)
	}
	return ActionGroupRecent, r.markProcessed(ctx, msg)
}

// reply queues an outbound text that completes msg.
func (r *Router) reply(ctx context.Context, msg *database.Message, content, replyContext string) error {
	_, err := jobs.EnqueueReply(ctx, r.deps.Queue, jobs.ResponsePayload{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Content:   content,
		Context:   replyContext,
	})
	return err
}

func (r *Router) markProcessed(ctx context.Context, msg *database.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.deps.Config.Timeouts.Store)
	defer cancel()
	return r.deps.Store.MarkMessageProcessed(ctx, msg.ID, r.deps.Now().UTC())
}

func isThanks(content, token string) bool {
	return token != "" && strings.EqualFold(strings.TrimSpace(content), token)
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
