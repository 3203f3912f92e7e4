// Package llm provides language model completion clients for categorization
// and statement parsing. It supports OpenAI and Anthropic, with retry logic,
// rate limiting and response caching layered on by Service.
package llm
