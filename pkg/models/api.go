package models

// ErrorResponse is the standard JSON error payload
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse is the standard JSON success payload
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WebhookAckResponse acknowledges a processed provider webhook
type WebhookAckResponse struct {
	Received bool `json:"received"`
}

// TrialStartRequest starts a direct trial for a tool
type TrialStartRequest struct {
	ToolID   string `json:"toolId" validate:"required"`
	PlanCode string `json:"planCode" validate:"required"`
}

// SubscribeRequest adds a paid tool plan to the user's master subscription
type SubscribeRequest struct {
	ToolID   string `json:"toolId" validate:"required"`
	PlanCode string `json:"planCode" validate:"required"`
}

// SubscribeResponse reports the provider references created by a subscribe call.
// The status it implies is provisional until the webhook confirms it.
type SubscribeResponse struct {
	OK             bool   `json:"ok"`
	SubscriptionID string `json:"subscriptionId"`
	ToolItemID     string `json:"toolItemId"`
}

// CheckoutSessionRequest creates a provider-hosted checkout session
type CheckoutSessionRequest struct {
	PriceID string `json:"priceId" validate:"required"`
}

// CheckoutSessionResponse carries the hosted checkout redirect URL
type CheckoutSessionResponse struct {
	URL string `json:"url"`
}

// VerifySessionRequest confirms a checkout session after redirect
type VerifySessionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// VerifySessionResponse is the read-only confirmation of a checkout session
type VerifySessionResponse struct {
	Success            bool   `json:"success"`
	SubscriptionStatus string `json:"subscriptionStatus"`
	PaymentStatus      string `json:"paymentStatus"`
}

// PortalSessionResponse carries the billing portal redirect URL
type PortalSessionResponse struct {
	URL string `json:"url"`
}

// InvoiceInfo is a provider invoice formatted for the frontend
type InvoiceInfo struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Amount string `json:"amount"`
	Status string `json:"status"`
	PDFURL string `json:"pdfUrl,omitempty"`
}

// PricingPlan is a catalog plan with its feature grants, for the public
// pricing endpoint
type PricingPlan struct {
	Plan     Plan          `json:"plan"`
	Features []PlanFeature `json:"features"`
}

// PricingResponse lists the active plans of a tool
type PricingResponse struct {
	Tool  Tool          `json:"tool"`
	Plans []PricingPlan `json:"plans"`
}
