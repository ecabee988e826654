package payment

import "time"

// Transaction is one entry in the append-only payment ledger. Amount is in
// the smallest unit of the currency (cents for USD).
type Transaction struct {
	ID           string    `json:"transaction_id"`
	FromID       string    `json:"from_user_id"`
	ToID         string    `json:"to_user_id"`
	CurrencyCode string    `json:"currency_code"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// TransactionWithSender is a ledger entry joined with the sender's public
// profile fields.
type TransactionWithSender struct {
	Transaction
	SenderUsername string `json:"username"`
	SenderName     string `json:"name"`
	SenderPicture  string `json:"profile_picture"`
}
