package model

// State описывает состояние заказа в жизненном цикле перевода.
type State string

const (
	StateRequest    State = "request"
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDelivered  State = "delivered"
	StateInvoiced   State = "invoiced"
	StateCancelled  State = "cancelled"
)

// transitions: единственный источник допустимых переходов.
var transitions = map[State][]State{
	StateRequest:    {StatePending, StateCancelled},
	StatePending:    {StateInProgress, StateCancelled},
	StateInProgress: {StateDelivered, StatePending, StateCancelled},
	StateDelivered:  {StateInvoiced},
	StateInvoiced:   nil,
	StateCancelled:  nil,
}

// Valid сообщает, является ли значение известным состоянием.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal сообщает, что из состояния нет ни одного перехода.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition проверяет переход по таблице.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition возвращает ошибку вида invalid_state_transition для запрещённого перехода.
func CheckTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return &Error{
		Kind:    KindInvalidStateTransition,
		Field:   "state",
		Value:   string(from),
		Message: "cannot move from " + string(from) + " to " + string(to),
	}
}
