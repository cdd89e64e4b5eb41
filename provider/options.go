package provider

import (
	"net/http"
	"os"

	"github.com/tmc/langchaingo/callbacks"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

type options struct {
	token            string
	baseURL          string
	model            string
	organization     string
	httpClient       *http.Client
	callbacksHandler callbacks.Handler
}

// Option configures an OpenAI model.
type Option func(*options)

// WithToken sets the API key. The default is OPENAI_API_KEY.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel sets the model requested when a call does not name one.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(o *options) { o.organization = org }
}

// WithHTTPClient sets the HTTP client, for instance one instrumented with
// otelhttp.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithCallback sets a langchaingo callbacks handler.
func WithCallback(h callbacks.Handler) Option {
	return func(o *options) { o.callbacksHandler = h }
}

func defaultOptions() *options {
	return &options{
		token:   os.Getenv("OPENAI_API_KEY"),
		baseURL: os.Getenv("OPENAI_BASE_URL"),
		model:   DefaultModel,
	}
}
