package models

import "time"

// InboundMessage is a single text message delivered by the chat transport.
type InboundMessage struct {
	ID         string `json:"id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// ClassificationResult holds the four labelled fields extracted from a model answer.
type ClassificationResult struct {
	Sentiment     string `json:"sentiment"`
	Justification string `json:"justification"`
	Emotion       string `json:"emotion"`
	Urgency       string `json:"urgency"`
}

// SentimentRecord is the persisted outcome for one message id
type SentimentRecord struct {
	MessageID     string    `json:"message_id"`
	UserName      string    `json:"user_name"`
	Message       string    `json:"message"`
	Sentiment     string    `json:"sentiment"`
	Justification string    `json:"justification"`
	Emotion       string    `json:"emotion"`
	Urgency       string    `json:"urgency"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewSentimentRecord(msg InboundMessage, result ClassificationResult) *SentimentRecord {
	return &SentimentRecord{
		MessageID:     msg.ID,
		UserName:      msg.SenderName,
		Message:       msg.Text,
		Sentiment:     result.Sentiment,
		Justification: result.Justification,
		Emotion:       result.Emotion,
		Urgency:       result.Urgency,
	}
}

// LabelCount is one bucket of an aggregate
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TrendPoint counts one sentiment on one calendar day (YYYY-MM-DD)
type TrendPoint struct {
	Date      string `json:"date"`
	Sentiment string `json:"sentiment"`
	Count     int    `json:"count"`
}

// Stats summarises the stored records for the dashboard
type Stats struct {
	Total       int          `json:"total"`
	BySentiment []LabelCount `json:"by_sentiment"`
	ByEmotion   []LabelCount `json:"by_emotion"`
	TopUsers    []LabelCount `json:"top_users"`
	Trends      []TrendPoint `json:"trends"`
}

const TrendDateLayout = "2006-01-02"
