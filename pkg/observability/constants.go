package observability

const (
	AttrServiceName      = "service.name"
	AttrServiceVersion   = "service.version"
	AttrChapterID        = "chapter.id"
	AttrStageName        = "chapter.stage"
	AttrProviderName     = "llm.provider"
	AttrLLMModel         = "llm.model"
	AttrLLMTokensInput   = "llm.tokens.input"
	AttrLLMTokensOutput  = "llm.tokens.output"
	AttrLLMFinishReason  = "llm.finish_reason"
	AttrErrorType        = "error.type"
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanStageRun       = "chapter.stage_run"
	SpanLLMCall        = "chapter.llm_call"
	SpanResearchSearch = "chapter.research_search"
	SpanHTTPRequest    = "http.request"

	DefaultServiceName  = "chapterforge"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
