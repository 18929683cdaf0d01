package store

import "time"

// OutboxMessage is an envelope waiting to be published on the event topic.
type OutboxMessage struct {
	ID        int64   `json:"id"`
	Topic     string  `json:"topic"`
	Payload   []byte  `json:"payload"`
	MsgType   string  `json:"msg_type"`
	Retries   int     `json:"retries"`
	CreatedAt string  `json:"created_at"`
	SentAt    *string `json:"sent_at"`
}

func (db *DB) EnqueueOutbox(topic string, payload []byte, msgType string) (int64, error) {
	res, err := db.Exec(`INSERT INTO outbox (topic, payload, msg_type) VALUES (?, ?, ?)`, topic, payload, msgType)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPendingOutbox returns unsent messages that have been retried fewer than
// maxRetries times, oldest first. maxRetries <= 0 disables the limit.
func (db *DB) ListPendingOutbox(limit, maxRetries int) ([]OutboxMessage, error) {
	q := `SELECT id, topic, payload, msg_type, retries, created_at FROM outbox WHERE sent_at IS NULL`
	args := []interface{}{}
	if maxRetries > 0 {
		q += ` AND retries < ?`
		args = append(args, maxRetries)
	}
	q += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.Retries, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (db *DB) AckOutbox(id int64) error {
	_, err := db.Exec(`UPDATE outbox SET sent_at = datetime('now','localtime') WHERE id = ?`, id)
	return err
}

func (db *DB) IncrementOutboxRetries(id int64) error {
	_, err := db.Exec(`UPDATE outbox SET retries = retries + 1 WHERE id = ?`, id)
	return err
}

// PurgeSentOutbox deletes published messages older than age.
func (db *DB) PurgeSentOutbox(age time.Duration) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`, cutoff(age))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
