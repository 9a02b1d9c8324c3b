package api

import "fmt"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kbsync api error: code=%s, message=%s", e.Code, e.Message)
}
