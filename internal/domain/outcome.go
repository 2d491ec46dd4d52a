package domain

// OutcomeKind задаёт вид терминального исхода отправки.
type OutcomeKind string

const (
	OutcomeSent    OutcomeKind = "sent"
	OutcomeBlocked OutcomeKind = "blocked"
	OutcomeFailed  OutcomeKind = "failed"
)

// DeliveryOutcome описывает исход одной попытки доставки.
type DeliveryOutcome struct {
	Kind   OutcomeKind
	Reason string
}

// Success сообщает, доставлено ли сообщение.
func (o DeliveryOutcome) Success() bool {
	return o.Kind == OutcomeSent
}

// Sent создаёт успешный исход.
func Sent() DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeSent, Reason: "Успешно отправлено"}
}

// Blocked создаёт исход «получатель заблокировал отправителя».
func Blocked(reason string) DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeBlocked, Reason: reason}
}

// Failed создаёт исход «не доставлено».
func Failed(reason string) DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeFailed, Reason: reason}
}
