package pkg

// CommonResponse is the envelope every API endpoint returns.
// Status is "success" or "fail"; Message carries the user-facing text on failure.
type CommonResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func NewSuccessResponse(data any, message string) CommonResponse {
	return CommonResponse{Status: "success", Data: data, Message: message}
}

func NewFailResponse(message string) CommonResponse {
	return CommonResponse{Status: "fail", Message: message}
}
