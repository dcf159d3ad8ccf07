package observability

// Span and attribute names for the engine's OTel instrumentation. The only
// emitter is pkg/tracker's per-stage spans, which set AttrConversationID
// and AttrStageName.
const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrConversationID = "conversation.id"
	AttrStageName      = "pipeline.stage"
	AttrModuleName     = "module.name"
	AttrLLMModel       = "llm.model"
	AttrLLMProvider    = "llm.provider"
	AttrLLMTokensInput = "llm.tokens.input"
	AttrLLMTokensOut   = "llm.tokens.output"
	AttrErrorType      = "error.type"

	SpanPipelineStage = "pipeline.stage"
	SpanScriptExec    = "pipeline.script_execution"
	SpanLLMRequest    = "llm.request"

	DefaultServiceName = "promptengine"
)
