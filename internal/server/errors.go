package server

import (
	"errors"
	"net/http"

	"github.com/dshills/codecraft/graph/model"
	"github.com/dshills/codecraft/internal/workflow"
)

// ErrorDetail is the body of every failed API call. Clients read it from
// the "detail" key, see ErrorResponse.
type ErrorDetail struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Solutions []string          `json:"solutions,omitempty"`
	HelpLinks map[string]string `json:"help_links,omitempty"`
	Help      string            `json:"help,omitempty"`
}

// ErrorResponse wraps ErrorDetail.
type ErrorResponse struct {
	Detail ErrorDetail `json:"detail"`
}

// classifyError maps a workflow failure to a status code and body. The
// mapping only looks at the error taxonomy, never at message text.
func classifyError(err error) (int, ErrorDetail) {
	switch {
	case errors.Is(err, workflow.ErrEmptyTask):
		return http.StatusBadRequest, ErrorDetail{
			Error:   "Invalid Request",
			Message: "The task field is required and must not be blank.",
		}

	case errors.Is(err, model.ErrMissingAPIKey):
		return http.StatusInternalServerError, ErrorDetail{
			Error:   "Configuration Error",
			Message: "No LLM API key is configured on the server.",
			Solutions: []string{
				"Set OPENROUTER_API_KEY (or CODECRAFT_LLM_API_KEY) in the server environment",
				"Or set llm.api_key in the configuration file",
				"Restart the server after changing the configuration",
			},
			HelpLinks: map[string]string{
				"get_api_key": "https://openrouter.ai/settings/keys",
			},
		}
	}

	kind, _ := model.KindOf(err)
	switch kind {
	case model.KindAuth:
		return http.StatusUnauthorized, ErrorDetail{
			Error:   "OpenRouter API Key Issue",
			Message: "The LLM provider rejected the configured API key.",
			Solutions: []string{
				"Check that the API key is correct and has not been revoked",
				"Generate a new key at https://openrouter.ai/settings/keys",
				"Make sure the key is set in the server environment",
			},
			HelpLinks: map[string]string{
				"get_api_key": "https://openrouter.ai/settings/keys",
			},
		}

	case model.KindQuota:
		return http.StatusPaymentRequired, ErrorDetail{
			Error:   "API Quota Exceeded",
			Message: "The LLM provider account has run out of credits or hit its rate limit.",
			Solutions: []string{
				"Add credits to your account",
				"Check current usage on the activity page",
				"Wait and retry if you hit a rate limit",
			},
			HelpLinks: map[string]string{
				"add_credits":    "https://openrouter.ai/credits",
				"check_activity": "https://openrouter.ai/activity",
			},
		}
	}

	return http.StatusInternalServerError, ErrorDetail{
		Error:   "Processing Error",
		Message: err.Error(),
		Help:    "Please try again. If the problem persists, check the server logs.",
	}
}
