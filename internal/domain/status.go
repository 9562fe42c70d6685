package domain

type AuthorizationStatus string

const (
	AuthPending         AuthorizationStatus = "pending"
	AuthSuccess         AuthorizationStatus = "success"
	AuthFailed          AuthorizationStatus = "failed"
	AuthPendingPin      AuthorizationStatus = "pending_pin"
	AuthPendingOtp      AuthorizationStatus = "pending_otp"
	AuthPendingTransfer AuthorizationStatus = "pending_transfer"
)

var authorizationTransitions = map[AuthorizationStatus][]AuthorizationStatus{
	AuthPending:         {AuthSuccess, AuthFailed, AuthPendingPin, AuthPendingOtp, AuthPendingTransfer},
	AuthPendingPin:      {AuthSuccess, AuthFailed, AuthPendingOtp},
	AuthPendingOtp:      {AuthSuccess, AuthFailed},
	AuthPendingTransfer: {AuthSuccess, AuthFailed},
	AuthSuccess:         {},
	AuthFailed:          {},
}

func (s AuthorizationStatus) Valid() bool {
	_, ok := authorizationTransitions[s]
	return ok
}

func (s AuthorizationStatus) CanTransitionTo(target AuthorizationStatus) bool {
	return allowed(authorizationTransitions[s], target)
}

// TransitionTo returns target, or a *TransitionError if the edge is not allowed.
func (s AuthorizationStatus) TransitionTo(target AuthorizationStatus) (AuthorizationStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &TransitionError{Machine: "authorization", From: string(s), To: string(target)}
	}
	return target, nil
}

func (s AuthorizationStatus) IsTerminal() bool {
	return s == AuthSuccess || s == AuthFailed
}

// AwaitingConfirmation reports whether a provider signal may still settle
// this attempt. Success is included on purpose: re-observing a successful
// attempt is safe because settlement is idempotent.
func (s AuthorizationStatus) AwaitingConfirmation() bool {
	return s.Valid() && s != AuthFailed
}

// Action is the follow-up the payer must take, if any.
func (s AuthorizationStatus) Action() string {
	switch s {
	case AuthPendingPin:
		return "pin"
	case AuthPendingOtp:
		return "otp"
	case AuthPendingTransfer:
		return "transfer"
	}
	return ""
}

// OpenStatuses lists the non-terminal authorization statuses.
func OpenStatuses() []AuthorizationStatus {
	return []AuthorizationStatus{AuthPending, AuthPendingPin, AuthPendingOtp, AuthPendingTransfer}
}

// AwaitingConfirmationStatuses lists the statuses matched by AwaitingConfirmation.
func AwaitingConfirmationStatuses() []AuthorizationStatus {
	return []AuthorizationStatus{AuthPending, AuthPendingPin, AuthPendingOtp, AuthPendingTransfer, AuthSuccess}
}

type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSuccess    PaymentStatus = "success"
	PaymentFailed     PaymentStatus = "failed"
	PaymentReversed   PaymentStatus = "reversed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentInitiated:  {PaymentPending, PaymentProcessing, PaymentSuccess, PaymentFailed},
	PaymentPending:    {PaymentProcessing, PaymentSuccess, PaymentFailed},
	PaymentProcessing: {PaymentSuccess, PaymentFailed},
	PaymentSuccess:    {PaymentReversed},
	PaymentFailed:     {},
	PaymentReversed:   {},
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	return allowed(paymentTransitions[s], target)
}

func (s PaymentStatus) TransitionTo(target PaymentStatus) (PaymentStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &TransitionError{Machine: "payment", From: string(s), To: string(target)}
	}
	return target, nil
}

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending: {TransactionSuccess, TransactionFailed},
	TransactionSuccess: {},
	TransactionFailed:  {},
}

func (s TransactionStatus) Valid() bool {
	_, ok := transactionTransitions[s]
	return ok
}

func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	return allowed(transactionTransitions[s], target)
}

func (s TransactionStatus) TransitionTo(target TransactionStatus) (TransactionStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &TransitionError{Machine: "transaction", From: string(s), To: string(target)}
	}
	return target, nil
}

func allowed[S comparable](edges []S, target S) bool {
	for _, e := range edges {
		if e == target {
			return true
		}
	}
	return false
}
