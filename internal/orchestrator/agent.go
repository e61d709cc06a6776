// Package orchestrator runs the full message pipeline: authentication,
// pending-operation handling, input screening, intent classification, entity
// extraction, multi-intent decomposition, validation, confirmation gating,
// execution, and response composition. ProcessMessage is the one entry point;
// every fault inside the pipeline is converted into a user-facing reply and
// only authentication failures and context cancellation surface as errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskchat/internal/backend"
	"taskchat/internal/clarify"
	"taskchat/internal/command"
	"taskchat/internal/compose"
	"taskchat/internal/confirm"
	"taskchat/internal/convo"
	"taskchat/internal/guard"
	"taskchat/internal/nlu"
	"taskchat/internal/store"
)

// maxReplySuggestions caps the suggestion list of one reply.
const maxReplySuggestions = 5

// Request is one inbound user message.
type Request struct {
	Message        string
	AuthToken      string
	ConversationID string
}

// Reply is the assistant's answer to one request.
type Reply struct {
	ResponseText     string
	Intent           command.Intent
	Entities         map[string]string
	Suggestions      []string
	FollowUpRequired bool
	ConversationID   string
	Success          bool
	ConfirmationID   string
}

// Agent wires the pipeline stages together.
type Agent struct {
	auth       backend.AuthValidator
	classifier *nlu.Classifier
	extractor  *nlu.Extractor
	guard      *guard.Guard
	clarifier  *clarify.Generator
	confirms   *confirm.Service
	sessions   *convo.Manager
	formatter  *compose.Formatter
	executor   *Executor
	strategy   MultiStrategy
	now        store.Clock
	logger     *zap.Logger
}

type settings struct {
	externalClassifier nlu.ExternalClassifier
	externalExtractor  nlu.ExternalExtractor
	nluTimeout         time.Duration
	sessionTTL         time.Duration
	confirmTTL         time.Duration
	clock              store.Clock
	picker             compose.PhrasePicker
	hierarchical       bool
}

// Option configures an Agent.
type Option func(*settings)

// WithExternalNLU attaches the generative classifier and extractor with a
// per-call timeout. Without it the pipeline runs purely rule-based.
func WithExternalNLU(c nlu.ExternalClassifier, e nlu.ExternalExtractor, timeout time.Duration) Option {
	return func(s *settings) {
		s.externalClassifier = c
		s.externalExtractor = e
		s.nluTimeout = timeout
	}
}

// WithSessionTTL overrides the conversation session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *settings) { s.sessionTTL = ttl }
}

// WithConfirmationTTL overrides the confirmation-request lifetime.
func WithConfirmationTTL(ttl time.Duration) Option {
	return func(s *settings) { s.confirmTTL = ttl }
}

// WithClock injects a clock for deterministic expiry tests.
func WithClock(now store.Clock) Option {
	return func(s *settings) { s.clock = now }
}

// WithPhrasePicker overrides the phrase picker; tests pass
// compose.NewRoundRobin() for reproducible replies.
func WithPhrasePicker(p compose.PhrasePicker) Option {
	return func(s *settings) { s.picker = p }
}

// WithHierarchicalOrdering executes multi-intent messages in intent-priority
// order instead of utterance order.
func WithHierarchicalOrdering() Option {
	return func(s *settings) { s.hierarchical = true }
}

// New creates an agent over the task backend and auth validator.
func New(logger *zap.Logger, tasks backend.TaskBackend, auth backend.AuthValidator, opts ...Option) *Agent {
	cfg := settings{
		nluTimeout: 5 * time.Second,
		sessionTTL: convo.DefaultTTL,
		confirmTTL: confirm.DefaultTTL,
		clock:      time.Now,
		picker:     compose.NewRandom(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var classifierOpts []nlu.ClassifierOption
	if cfg.externalClassifier != nil {
		classifierOpts = append(classifierOpts, nlu.WithExternalClassifier(cfg.externalClassifier, cfg.nluTimeout))
	}
	var extractorOpts []nlu.ExtractorOption
	if cfg.externalExtractor != nil {
		extractorOpts = append(extractorOpts, nlu.WithExternalExtractor(cfg.externalExtractor, cfg.nluTimeout))
	}

	a := &Agent{
		auth:       auth,
		classifier: nlu.NewClassifier(logger, classifierOpts...),
		extractor:  nlu.NewExtractor(logger, extractorOpts...),
		guard:      guard.New(logger),
		clarifier:  clarify.New(),
		formatter:  compose.New(cfg.picker),
		executor:   NewExecutor(tasks, auth, logger),
		now:        cfg.clock,
		logger:     logger.Named("orchestrator"),
	}

	a.sessions = convo.NewManager(logger, convo.WithTTL(cfg.sessionTTL), convo.WithClock(cfg.clock))
	a.confirms = confirm.NewService(logger,
		confirm.WithTTL(cfg.confirmTTL),
		confirm.WithClock(cfg.clock),
		confirm.WithExecutor(a.execConfirmed))

	if cfg.hierarchical {
		a.strategy = NewHierarchical(a.classifier)
	} else {
		a.strategy = Sequential{}
	}
	return a
}

// Sweepables returns the TTL-bound stores a background sweeper should cover.
func (a *Agent) Sweepables() []store.Sweepable {
	return []store.Sweepable{a.sessions, a.confirms}
}

// Sessions exposes the conversation manager for inspection.
func (a *Agent) Sessions() *convo.Manager {
	return a.sessions
}

// ProcessMessage runs one user message through the pipeline and returns the
// reply. The returned error is non-nil only for authentication failure and
// context cancellation; every other fault becomes a reply.
func (a *Agent) ProcessMessage(ctx context.Context, req Request) (*Reply, error) {
	user, err := a.auth.ValidateToken(ctx, req.AuthToken)
	if err != nil {
		return nil, err
	}
	ctx = backend.ContextWithToken(ctx, req.AuthToken)

	sess, unlock := a.resolveSession(req.ConversationID, user.UserID)
	defer unlock()

	switch sess.Pending.Kind {
	case command.PendingConfirmation:
		return a.answerConfirmation(ctx, sess, req.Message, sess.Pending.Confirmation)
	case command.PendingClarification:
		// The message is the user's restatement; run it as a fresh turn.
		a.sessions.ClearPending(sess.ID)
	}

	return a.processFresh(ctx, sess, user, req.Message)
}

// Resolve answers a confirmation out of band, by id rather than by
// conversational yes/no. action is "confirm" or "reject".
func (a *Agent) Resolve(ctx context.Context, authToken, confirmationID, action string) (*Reply, error) {
	user, err := a.auth.ValidateToken(ctx, authToken)
	if err != nil {
		return nil, err
	}
	ctx = backend.ContextWithToken(ctx, authToken)

	status, err := a.confirms.Status(confirmationID)
	if err != nil {
		return nil, err
	}
	if status.OriginalCommand.UserID != user.UserID {
		return nil, command.ErrConfirmationNotFound
	}

	sessionID := status.OriginalCommand.ConversationID
	unlock := a.sessions.Lock(sessionID)
	defer unlock()

	var text string
	success := false
	switch action {
	case "confirm":
		if err := a.confirms.Confirm(confirmationID); err != nil {
			return nil, err
		}
		res, execErr := a.confirms.ProcessConfirmed(ctx, confirmationID)
		if execErr != nil {
			a.logger.Error("confirmed action failed", zap.Error(execErr))
			text = a.formatter.FormatError("I couldn't complete the confirmed action. Please try again.")
		} else {
			text = a.formatter.FormatResult(res)
			success = res.Success
		}
	case "reject":
		if err := a.confirms.Reject(confirmationID); err != nil {
			return nil, err
		}
		text = "Okay, I won't do that. The action has been cancelled."
		success = true
	default:
		return nil, fmt.Errorf("unknown confirmation action %q", action)
	}

	a.sessions.ClearPending(sessionID)
	a.sessions.AppendMessage(sessionID, "assistant", text)

	return &Reply{
		ResponseText:   text,
		Intent:         status.OriginalCommand.Intent,
		Entities:       status.OriginalCommand.Entities,
		ConversationID: sessionID,
		Success:        success,
	}, nil
}

// ConfirmationStatus reports a pending confirmation, scoped to its owner.
func (a *Agent) ConfirmationStatus(ctx context.Context, authToken, confirmationID string) (command.ConfirmationRequest, error) {
	user, err := a.auth.ValidateToken(ctx, authToken)
	if err != nil {
		return command.ConfirmationRequest{}, err
	}
	status, err := a.confirms.Status(confirmationID)
	if err != nil {
		return command.ConfirmationRequest{}, err
	}
	if status.OriginalCommand.UserID != user.UserID {
		return command.ConfirmationRequest{}, command.ErrConfirmationNotFound
	}
	return status, nil
}

// resolveSession returns the live session for the turn, holding its lock. An
// unknown, expired, or foreign conversation id silently gets a fresh session.
func (a *Agent) resolveSession(conversationID, userID string) (*convo.Session, func()) {
	if conversationID != "" {
		unlock := a.sessions.Lock(conversationID)
		if s := a.sessions.Get(conversationID); s != nil && s.UserID == userID {
			return s, unlock
		}
		unlock()
		a.logger.Debug("conversation not resumable, starting fresh",
			zap.String("conversation_id", conversationID),
			zap.Error(command.ErrSessionExpired))
	}

	s := a.sessions.Create(userID)
	return s, a.sessions.Lock(s.ID)
}

// execConfirmed adapts the executor to the confirmation service. By the time
// a confirmed command re-executes, its task reference may have become
// ambiguous; that is an execution failure, not a new clarification round.
func (a *Agent) execConfirmed(ctx context.Context, cmd command.Command) (*command.Result, error) {
	res, candidates, err := a.executor.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 1 {
		return nil, fmt.Errorf("%w: task reference is no longer unique", command.ErrExecutionFailure)
	}
	return res, nil
}

type confirmationAnswer int

const (
	answerUnclear confirmationAnswer = iota
	answerYes
	answerNo
)

var (
	affirmativeAnswers = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
		"ok": true, "okay": true, "confirm": true, "affirmative": true,
		"go ahead": true, "do it": true, "proceed": true,
	}
	negativeAnswers = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "stop": true,
		"deny": true, "don't": true, "negative": true, "never mind": true,
		"nevermind": true,
	}
)

// parseAnswer reads a confirmation reply. Anything not clearly yes or no is
// unclear and re-prompts rather than guessing.
func parseAnswer(message string) confirmationAnswer {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, ".!?")

	if affirmativeAnswers[normalized] {
		return answerYes
	}
	if negativeAnswers[normalized] {
		return answerNo
	}

	first, _, _ := strings.Cut(normalized, " ")
	first = strings.TrimRight(first, ",")
	if first != "" && first != normalized {
		if affirmativeAnswers[first] {
			return answerYes
		}
		if negativeAnswers[first] {
			return answerNo
		}
	}
	return answerUnclear
}

// answerConfirmation handles a turn while a confirmation is pending.
func (a *Agent) answerConfirmation(ctx context.Context, sess *convo.Session, message string, req *command.ConfirmationRequest) (*Reply, error) {
	switch parseAnswer(message) {
	case answerYes:
		var text string
		success := false
		if err := a.confirms.Confirm(req.ID); err != nil {
			text = "That confirmation has expired. Please make your request again."
		} else if res, err := a.confirms.ProcessConfirmed(ctx, req.ID); err != nil {
			a.logger.Error("confirmed action failed", zap.Error(err))
			text = a.formatter.FormatError("I couldn't complete the confirmed action. Please try again.")
		} else {
			text = a.formatter.FormatResult(res)
			success = res.Success
		}
		if err := a.commit(ctx, sess, message, text, command.NoPending()); err != nil {
			return nil, err
		}
		return &Reply{
			ResponseText:   text,
			Intent:         req.OriginalCommand.Intent,
			Entities:       req.OriginalCommand.Entities,
			ConversationID: sess.ID,
			Success:        success,
		}, nil

	case answerNo:
		if err := a.confirms.Reject(req.ID); err != nil && !errors.Is(err, command.ErrConfirmationNotFound) {
			a.logger.Warn("confirmation rejection failed", zap.Error(err))
		}
		text := "Okay, I won't do that. The action has been cancelled."
		if err := a.commit(ctx, sess, message, text, command.NoPending()); err != nil {
			return nil, err
		}
		return &Reply{
			ResponseText:   text,
			Intent:         req.OriginalCommand.Intent,
			ConversationID: sess.ID,
			Success:        true,
			Suggestions:    []string{"Show my tasks", "Add a new task"},
		}, nil
	}

	// Unclear answer: re-prompt and keep the confirmation pending.
	text := "I need a clear yes or no. " + req.Message
	if err := a.commit(ctx, sess, message, text, command.AwaitConfirmation(req)); err != nil {
		return nil, err
	}
	return &Reply{
		ResponseText:     text,
		Intent:           req.OriginalCommand.Intent,
		ConversationID:   sess.ID,
		FollowUpRequired: true,
		ConfirmationID:   req.ID,
	}, nil
}

// screenInput runs the quality and safety checks on raw input. It returns the
// ready reply text and a sentinel error when the message is rejected.
func (a *Agent) screenInput(message string) (string, error) {
	if v := a.guard.ValidateInput(message); !v.IsValid {
		return a.formatter.FormatError(v.Message),
			fmt.Errorf("%w: %s", command.ErrInputRejected, v.Reason)
	}

	if issues := a.guard.CheckSafety(message); len(issues) > 0 {
		text := "I can't help with that request."
		for _, issue := range issues {
			if issue == "potential_self_harm" {
				text = "I'm concerned about what you've shared. Please consider reaching out to someone you trust or a mental health professional. I'm here to help with your tasks whenever you're ready."
				break
			}
		}
		return text, fmt.Errorf("%w: %s", command.ErrSafetyViolation, strings.Join(issues, ","))
	}

	if issues := a.guard.ScreenContent(message); len(issues) > 0 {
		return a.formatter.FormatError("your message contains content I can't process. Could you rephrase it?"),
			fmt.Errorf("%w: %s", command.ErrInputRejected, strings.Join(issues, ","))
	}

	return "", nil
}

// processFresh handles a turn with nothing pending.
func (a *Agent) processFresh(ctx context.Context, sess *convo.Session, user backend.UserInfo, message string) (*Reply, error) {
	if text, screenErr := a.screenInput(message); screenErr != nil {
		a.logger.Info("message rejected",
			zap.String("conversation_id", sess.ID),
			zap.Error(screenErr))
		if err := a.commit(ctx, sess, message, text, command.NoPending()); err != nil {
			return nil, err
		}
		return &Reply{
			ResponseText:   text,
			Intent:         command.IntentUnknown,
			ConversationID: sess.ID,
		}, nil
	}

	parts := nlu.Decompose(message)
	if len(parts) > 1 {
		return a.processMulti(ctx, sess, user, message, parts)
	}
	return a.processSingle(ctx, sess, user, message)
}

func (a *Agent) processSingle(ctx context.Context, sess *convo.Session, user backend.UserInfo, message string) (*Reply, error) {
	res, pending := a.runCommand(ctx, sess, user, message)
	text := a.replyText(res, pending)

	if err := a.commit(ctx, sess, message, text, pending); err != nil {
		return nil, err
	}
	return a.buildReply(sess, res, pending, text), nil
}

func (a *Agent) processMulti(ctx context.Context, sess *convo.Session, user backend.UserInfo, message string, parts []string) (*Reply, error) {
	ordered := a.strategy.Order(ctx, parts)

	var (
		texts       []string
		suggestions []string
		entities    = make(map[string]string)
		firstIntent = command.IntentUnknown
		succeeded   int
		pending     = command.NoPending()
	)

	for i, part := range ordered {
		res, p := a.runCommand(ctx, sess, user, part)
		texts = append(texts, a.replyText(res, p))
		suggestions = append(suggestions, res.Suggestions...)
		for k, v := range res.Entities {
			entities[k] = v
		}
		if i == 0 {
			firstIntent = res.Intent
		}
		if res.Success {
			succeeded++
		}
		if !p.IsNone() {
			// One pending operation at a time. Stop here; the user answers
			// first and resends anything we did not get to.
			pending = p
			if i < len(ordered)-1 {
				texts = append(texts, "Once you've answered, send me the rest of your request again.")
			}
			break
		}
	}

	text := strings.Join(texts, " ")
	allDone := succeeded == len(ordered)
	if pending.IsNone() {
		text = fmt.Sprintf("%d of %d requests succeeded. %s", succeeded, len(ordered), text)
	}
	if len(suggestions) > maxReplySuggestions {
		suggestions = suggestions[:maxReplySuggestions]
	}

	if err := a.commit(ctx, sess, message, text, pending); err != nil {
		return nil, err
	}

	reply := &Reply{
		ResponseText:     text,
		Intent:           firstIntent,
		Entities:         entities,
		Suggestions:      suggestions,
		ConversationID:   sess.ID,
		Success:          allDone,
		FollowUpRequired: !pending.IsNone(),
	}
	if pending.Kind == command.PendingConfirmation {
		reply.ConfirmationID = pending.Confirmation.ID
	}
	return reply, nil
}

// runCommand pushes one statement through classification, extraction,
// validation, confirmation gating, and execution. It never returns an error;
// faults become failure results and gates become pending operations.
func (a *Agent) runCommand(ctx context.Context, sess *convo.Session, user backend.UserInfo, text string) (*command.Result, command.PendingOperation) {
	intent, confidence := a.classifier.Classify(ctx, text)
	entities := a.extractor.Extract(ctx, text)

	cmd := command.Command{
		RawText:        text,
		Intent:         intent,
		Entities:       entities,
		Confidence:     confidence,
		UserID:         user.UserID,
		ConversationID: sess.ID,
		Timestamp:      a.now(),
	}

	a.logger.Debug("command classified",
		zap.String("conversation_id", sess.ID),
		zap.String("intent", string(intent)),
		zap.Float64("confidence", confidence))

	if v := a.guard.ValidateCommand(&cmd); !v.IsValid {
		return &command.Result{Intent: intent, Entities: entities, Message: v.Message}, command.NoPending()
	}

	// Confirmation gating runs before clarification: a bulk delete carries no
	// task reference, and asking "which task?" about an all-tasks operation
	// would be nonsense.
	verdict := a.guard.ValidateTaskOperation(&cmd)
	if verdict.RequiresConfirmation {
		kind := command.ConfirmDestructiveAction
		if verdict.Reason == "bulk_update" {
			kind = command.ConfirmDataModification
		}
		req := a.confirms.Create(cmd, actionDescription(&cmd), kind, "")
		return &command.Result{
			Intent:           intent,
			Entities:         entities,
			Message:          req.Message,
			FollowUpRequired: true,
			ConfirmationID:   req.ID,
		}, command.AwaitConfirmation(req)
	}
	if !verdict.IsValid {
		return &command.Result{Intent: intent, Entities: entities, Message: verdict.Message}, command.NoPending()
	}

	if clar := a.clarifier.NeedsClarification(&cmd, nil); clar != nil {
		return clarificationResult(&cmd, clar), command.AwaitClarification(clar)
	}

	res, candidates, err := a.executor.Execute(ctx, cmd)
	if len(candidates) > 1 {
		clar := a.clarifier.NeedsClarification(&cmd, candidates)
		return clarificationResult(&cmd, clar), command.AwaitClarification(clar)
	}
	if err != nil {
		return a.failureResult(&cmd, err), command.NoPending()
	}

	// The result is screened like the input: task content written earlier can
	// carry something we must not echo back.
	if issues := a.guard.CheckSafety(resultContent(res)); len(issues) > 0 {
		a.logger.Warn("result withheld by safety screen",
			zap.String("conversation_id", sess.ID),
			zap.String("intent", string(intent)),
			zap.Strings("issues", issues))
		return &command.Result{
			Intent:   intent,
			Entities: entities,
			Message:  "Some of your task content can't be displayed, so I've withheld this response.",
		}, command.NoPending()
	}

	return res, command.NoPending()
}

// resultContent gathers the user-visible text of a result for the safety
// screen: the message plus any task titles the formatter would render.
func resultContent(res *command.Result) string {
	parts := []string{res.Message}
	if res.ExecutionPayload != nil {
		if titles, ok := res.ExecutionPayload["titles"].([]string); ok {
			parts = append(parts, titles...)
		}
	}
	return strings.Join(parts, " ")
}

func clarificationResult(cmd *command.Command, clar *command.ClarificationRequest) *command.Result {
	return &command.Result{
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		Message:          clar.Message,
		Suggestions:      clar.Suggestions,
		FollowUpRequired: true,
	}
}

func (a *Agent) failureResult(cmd *command.Command, err error) *command.Result {
	if errors.Is(err, command.ErrTaskNotFound) {
		ref := cmd.Entity(command.SlotTaskTitle)
		if ref == "" {
			ref = cmd.Entity(command.SlotSearchTerm)
		}
		return &command.Result{
			Intent:      cmd.Intent,
			Entities:    cmd.Entities,
			Message:     fmt.Sprintf("I couldn't find a task matching %q.", ref),
			Suggestions: []string{"Show my tasks"},
		}
	}

	if errors.Is(err, command.ErrDestructiveActionBlocked) {
		a.logger.Warn("destructive action blocked",
			zap.String("conversation_id", cmd.ConversationID),
			zap.Error(err))
		return &command.Result{
			Intent:   cmd.Intent,
			Entities: cmd.Entities,
			Message:  "You don't have permission to do that.",
		}
	}

	a.logger.Error("command execution failed",
		zap.String("conversation_id", cmd.ConversationID),
		zap.String("intent", string(cmd.Intent)),
		zap.Error(err))
	return &command.Result{
		Intent:   cmd.Intent,
		Entities: cmd.Entities,
		Message:  "I encountered an error while processing your request. Please try again.",
	}
}

// actionDescription phrases what a confirmation would authorize.
func actionDescription(cmd *command.Command) string {
	switch cmd.Intent {
	case command.IntentDeleteTask:
		if guard.BulkDelete(cmd) {
			return "delete all your tasks"
		}
		if title := cmd.Entity(command.SlotTaskTitle); title != "" {
			return fmt.Sprintf("delete the task '%s'", title)
		}
		return "delete this task"
	case command.IntentUpdateTask:
		return "update multiple tasks at once"
	}
	return "perform this action"
}

// replyText renders the final text of a turn. Pending operations speak in
// their own words; everything else goes through the formatter.
func (a *Agent) replyText(res *command.Result, pending command.PendingOperation) string {
	switch pending.Kind {
	case command.PendingConfirmation:
		return pending.Confirmation.Message
	case command.PendingClarification:
		return pending.Clarification.Message
	}
	return a.formatter.FormatResult(res)
}

func (a *Agent) buildReply(sess *convo.Session, res *command.Result, pending command.PendingOperation, text string) *Reply {
	reply := &Reply{
		ResponseText:     text,
		Intent:           res.Intent,
		Entities:         res.Entities,
		Suggestions:      res.Suggestions,
		ConversationID:   sess.ID,
		Success:          res.Success,
		FollowUpRequired: res.FollowUpRequired || !pending.IsNone(),
		ConfirmationID:   res.ConfirmationID,
	}
	if len(reply.Suggestions) > maxReplySuggestions {
		reply.Suggestions = reply.Suggestions[:maxReplySuggestions]
	}
	return reply
}

// commit is the single point where a turn mutates its session: both history
// entries and the pending operation land together, after the context is
// known to still be live.
func (a *Agent) commit(ctx context.Context, sess *convo.Session, userMessage, replyText string, pending command.PendingOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.sessions.AppendMessage(sess.ID, "user", userMessage)
	a.sessions.AppendMessage(sess.ID, "assistant", replyText)
	a.sessions.SetPending(sess.ID, pending)
	return nil
}
