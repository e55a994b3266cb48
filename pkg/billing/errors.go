package billing

import "errors"

// Domain errors surfaced to API callers as stable error codes. Validation
// and conflict errors are detected before any write.
var (
	ErrPlanNotFound        = errors.New("PLAN_NOT_FOUND")
	ErrWrongToolForPlan    = errors.New("WRONG_TOOL_FOR_PLAN")
	ErrAlreadySubscribed   = errors.New("ALREADY_SUBSCRIBED_OR_TRIALING")
	ErrTrialAlreadyUsed    = errors.New("TRIAL_ALREADY_USED")
	ErrPriceNotConfigured  = errors.New("PRICE_NOT_CONFIGURED_FOR_PLAN")
	ErrCheckoutNotComplete = errors.New("CHECKOUT_NOT_COMPLETE")
	ErrPaymentNotCompleted = errors.New("PAYMENT_NOT_COMPLETED")
	ErrCustomerMismatch    = errors.New("CUSTOMER_MISMATCH")
	ErrBillingInfoNotFound = errors.New("BILLING_INFO_NOT_FOUND")

	// ErrInvalidSignature marks a webhook whose signature failed
	// verification. Terminal: the handler answers 400 and the provider
	// must not redeliver.
	ErrInvalidSignature = errors.New("INVALID_WEBHOOK_SIGNATURE")
)
