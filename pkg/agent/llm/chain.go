package llm

// Middleware wraps an LLMClient with additional behavior. Middlewares are
// composed with Chain to form a processing pipeline.
type Middleware func(next LLMClient) LLMClient

// Chain composes middlewares around a base client. Earlier middlewares are
// outermost: Chain(client, mw1, mw2) yields the call stack mw1 -> mw2 -> client,
// so mw1 may modify the request or short-circuit before mw2 and the client run.
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
