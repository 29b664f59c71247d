package conversation

import (
	"context"
	"strings"
	"time"

	"course-rag-server/internal/errors"
	"course-rag-server/internal/generation"
	"course-rag-server/internal/locks"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/prompts"
	"course-rag-server/internal/retrieval"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

// Answers returned as regular responses, not errors. Clients match on
// these strings, so they are part of the API contract.
const (
	AnswerFilterRequired = "检索必须携带过滤条件，不支持无过滤条件检索"
	AnswerNoDocuments    = "检索的课程和材料不在数据库中"
	answerGenFailedFmt   = "抱歉，处理您的问题时出现错误: "
)

// Orchestrator routes a chat request through memory, retrieval and
// generation according to the requested engine mode.
type Orchestrator struct {
	memory            *Memory
	retriever         *retrieval.Engine
	generator         generation.Service
	prompts           *prompts.Registry
	locks             *locks.KeyedMutex
	defaultCollection string
	logger            logging.Logger
}

// NewOrchestrator wires the chat pipeline.
func NewOrchestrator(memory *Memory, retriever *retrieval.Engine, generator generation.Service, registry *prompts.Registry, defaultCollection string) *Orchestrator {
	return &Orchestrator{
		memory:            memory,
		retriever:         retriever,
		generator:         generator,
		prompts:           registry,
		locks:             locks.NewKeyedMutex(),
		defaultCollection: defaultCollection,
		logger:            logging.WithComponent("conversation"),
	}
}

// Chat executes one exchange. Requests for the same conversation are
// serialized so concurrent turns cannot interleave their memory writes.
func (o *Orchestrator) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, errors.NewBadRequestError(err.Error())
	}

	unlock := o.locks.Lock("conversation:" + req.ConversationID)
	defer unlock()

	if req.CourseID != "" && req.CourseMaterialID != "" {
		o.logger.WarnContext(ctx, "both course_id and course_material_id supplied, course filter wins",
			"conversation_id", req.ConversationID,
			"course_id", req.CourseID,
			"course_material_id", req.CourseMaterialID)
	}

	collection := req.CollectionName
	if collection == "" {
		collection = o.defaultCollection
	}

	history, err := o.memory.History(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	resp := &types.ChatResponse{
		Sources:        []types.SourceInfo{},
		ConversationID: req.ConversationID,
		ChatEngineType: req.ChatEngineType,
		FilterInfo:     types.DescribeFilter(req.CourseID, req.CourseMaterialID),
	}

	var answer string
	var remember bool
	switch req.ChatEngineType {
	case types.EngineRetrievalAugmented:
		answer, remember, err = o.retrievalAugmented(ctx, req, collection, history, resp)
	case types.EngineDirect:
		answer, remember, err = o.direct(ctx, req, history)
	default:
		return nil, errors.NewBadRequestError("unknown chat engine type: " + string(req.ChatEngineType))
	}
	if err != nil {
		return nil, err
	}
	resp.Answer = answer

	if remember {
		if err := o.memory.AppendExchange(ctx, req.ConversationID, req.Question, answer); err != nil {
			// The answer is already produced; losing one memory write is
			// preferable to failing the exchange.
			o.logger.ErrorContext(ctx, "failed to persist conversation turn",
				"conversation_id", req.ConversationID, "error", err.Error())
		}
	}

	resp.ProcessingTime = time.Since(start).Seconds()
	o.logger.InfoContext(ctx, "chat completed",
		"conversation_id", req.ConversationID,
		"engine", string(req.ChatEngineType),
		"sources", len(resp.Sources),
		"processing_time", resp.ProcessingTime)
	return resp, nil
}

// retrievalAugmented runs the filter check, retrieval and grounded
// generation. The returned bool says whether the turn enters memory.
// Refusal and empty-hit turns replace filter_info with the answer
// literal so the client sees why retrieval produced nothing.
func (o *Orchestrator) retrievalAugmented(ctx context.Context, req *types.ChatRequest, collection string, history *types.ConversationRecord, resp *types.ChatResponse) (string, bool, error) {
	spec := types.DeriveFilterSpec(req.CourseID, req.CourseMaterialID)
	if spec.IsNone() {
		resp.FilterInfo = AnswerFilterRequired
		return AnswerFilterRequired, false, nil
	}

	question := o.condenseQuestion(ctx, history, req.Question)

	result, err := o.retriever.Retrieve(ctx, collection, question, storage.FromSpec(spec))
	if err != nil {
		return "", false, err
	}
	if len(result.Sources) == 0 {
		resp.FilterInfo = AnswerNoDocuments
		return AnswerNoDocuments, false, nil
	}
	resp.Sources = result.Sources

	systemPrompt, err := o.prompts.Render(prompts.ContextAnswer, map[string]string{
		"context_str": strings.Join(result.Contexts, "\n\n"),
		"query_str":   req.Question,
	})
	if err != nil {
		return "", false, errors.NewInvariantViolationError(err.Error())
	}

	messages := append(historyWindow(history), types.ChatMessage{
		Role:    types.RoleUser,
		Content: req.Question,
	})
	answer, err := o.generator.Complete(ctx, systemPrompt, messages)
	if err != nil {
		return o.genFailureAnswer(ctx, req.ConversationID, err), false, nil
	}
	return answer, true, nil
}

// direct talks to the model with the conversation history and no retrieval.
func (o *Orchestrator) direct(ctx context.Context, req *types.ChatRequest, history *types.ConversationRecord) (string, bool, error) {
	systemPrompt, err := o.prompts.Get(prompts.SimpleSystem)
	if err != nil {
		return "", false, errors.NewInvariantViolationError(err.Error())
	}

	messages := append(historyWindow(history), types.ChatMessage{
		Role:    types.RoleUser,
		Content: req.Question,
	})
	answer, err := o.generator.Complete(ctx, systemPrompt, messages)
	if err != nil {
		return o.genFailureAnswer(ctx, req.ConversationID, err), false, nil
	}
	return answer, true, nil
}

// condenseQuestion rewrites a follow-up into a standalone question using
// the chat history. Failures fall back to the original question.
func (o *Orchestrator) condenseQuestion(ctx context.Context, history *types.ConversationRecord, question string) string {
	if len(history.Messages) == 0 && history.Summary == "" {
		return question
	}

	transcript := RenderTranscript(history.Messages)
	if history.Summary != "" {
		transcript = "总结：" + history.Summary + "\n" + transcript
	}

	prompt, err := o.prompts.Render(prompts.CondenseQuestion, map[string]string{
		"chat_history": transcript,
		"question":     question,
	})
	if err != nil {
		return question
	}

	condensed, err := o.generator.Complete(ctx, "", []types.ChatMessage{
		{Role: types.RoleUser, Content: prompt},
	})
	if err != nil || strings.TrimSpace(condensed) == "" {
		o.logger.WarnContext(ctx, "question condensing failed, using original question")
		return question
	}
	return strings.TrimSpace(condensed)
}

// genFailureAnswer converts a generation failure into the friendly
// error answer shown to the user. The turn does not enter memory.
func (o *Orchestrator) genFailureAnswer(ctx context.Context, conversationID string, err error) string {
	o.logger.ErrorContext(ctx, "generation failed",
		"conversation_id", conversationID, "error", err.Error())
	return answerGenFailedFmt + err.Error()
}

// historyWindow returns the messages to replay, with the compaction
// summary folded in as a leading user note when present.
func historyWindow(history *types.ConversationRecord) []types.ChatMessage {
	if history.Summary == "" {
		return append([]types.ChatMessage(nil), history.Messages...)
	}
	out := make([]types.ChatMessage, 0, len(history.Messages)+1)
	out = append(out, types.ChatMessage{
		Role:    types.RoleUser,
		Content: "此前对话的总结：" + history.Summary,
	})
	return append(out, history.Messages...)
}

// ClearConversation removes the stored history for one conversation.
func (o *Orchestrator) ClearConversation(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.ErrConversationIDRequired
	}
	unlock := o.locks.Lock("conversation:" + conversationID)
	defer unlock()
	return o.memory.Clear(ctx, conversationID)
}

// ConversationStatus reports whether a conversation has stored history and
// how large its window is.
type ConversationStatus struct {
	ConversationID string `json:"conversation_id"`
	Exists         bool   `json:"exists"`
	MessageCount   int    `json:"message_count"`
	TokenCount     int    `json:"token_count"`
	HasSummary     bool   `json:"has_summary"`
}

// Status inspects the stored record without mutating it.
func (o *Orchestrator) Status(ctx context.Context, conversationID string) (*ConversationStatus, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.ErrConversationIDRequired
	}
	record, err := o.memory.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	status := &ConversationStatus{ConversationID: conversationID}
	if record != nil {
		status.Exists = true
		status.MessageCount = len(record.Messages)
		status.TokenCount = record.TokenCount
		status.HasSummary = record.Summary != ""
	}
	return status, nil
}
