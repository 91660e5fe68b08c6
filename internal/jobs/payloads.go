// Package jobs defines the job payloads of every queue, the helpers that
// enqueue them and the handlers that execute them.
package jobs

import (
	"context"
	"fmt"

	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/queue"
)

// Job types outside the media queue, whose types are the media kinds.
const (
	TypeSummary   = "summary"
	TypeBootstrap = "knowledge-bootstrap"
	TypeSend      = "send"
)

// Priorities; lower runs first.
const (
	PriorityInteractive = 1
	PriorityScheduled   = 5
)

var mediaPriority = map[database.MessageType]int{
	database.MessageText:     1,
	database.MessageImage:    2,
	database.MessageAudio:    3,
	database.MessageDocument: 4,
	database.MessageVideo:    5,
	database.MessageSticker:  6,
}

// MediaPriority returns the queue priority of a message kind.
func MediaPriority(kind database.MessageType) int {
	if p, ok := mediaPriority[kind]; ok {
		return p
	}
	return PriorityScheduled
}

// MediaKinds lists the job types of the media queue.
var MediaKinds = []database.MessageType{
	database.MessageImage,
	database.MessageAudio,
	database.MessageVideo,
	database.MessageDocument,
	database.MessageSticker,
}

type MediaPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
	Content   string `json:"content"`
}

// SummaryPayload requests a digest of ChatID delivered to RequesterID.
type SummaryPayload struct {
	ChatID      string `json:"chatId"`
	Period      string `json:"period"`
	RequesterID string `json:"requesterId"`
	Force       bool   `json:"force"`
}

// ResponsePayload is an outbound text, or a media message captioned with
// Content when MediaURL is set. MessageID, when set, is the inbound message
// this reply completes.
type ResponsePayload struct {
	MessageID string `json:"messageId,omitempty"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	Context   string `json:"context,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaKind string `json:"mediaKind,omitempty"`
}

type BootstrapPayload struct {
	ChatID      string `json:"chatId"`
	Category    string `json:"category"`
	RequesterID string `json:"requesterId"`
}

// Enqueuer adds jobs to named queues.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, priority int, opts ...queue.Option) (queue.Handle, error)
}

// EnqueueMedia schedules processing of a media message. Enqueueing the same
// message twice while pending is a no-op.
func EnqueueMedia(ctx context.Context, enq Enqueuer, msg *database.Message) (queue.Handle, error) {
	payload := MediaPayload{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		MediaURL:  msg.MediaURL,
		MediaType: msg.MediaType,
		Content:   msg.Content,
	}
	return enq.Enqueue(ctx, config.QueueMedia, string(msg.Type), payload, MediaPriority(msg.Type), queue.WithJobID("media:"+msg.ID))
}

// EnqueueSummary schedules a summary job. Forced and cached requests for the
// same chat, period and requester are deduplicated separately.
func EnqueueSummary(ctx context.Context, enq Enqueuer, p SummaryPayload, priority int) (queue.Handle, error) {
	id := fmt.Sprintf("summary:%s:%s:%s", p.ChatID, p.Period, p.RequesterID)
	if p.Force {
		id += ":force"
	}
	return enq.Enqueue(ctx, config.QueueSummary, TypeSummary, p, priority, queue.WithJobID(id))
}

func EnqueueBootstrap(ctx context.Context, enq Enqueuer, p BootstrapPayload) (queue.Handle, error) {
	return enq.Enqueue(ctx, config.QueueSummary, TypeBootstrap, p, PriorityInteractive, queue.WithJobID("bootstrap:"+p.Category))
}

func EnqueueReply(ctx context.Context, enq Enqueuer, p ResponsePayload) (queue.Handle, error) {
	return enq.Enqueue(ctx, config.QueueResponse, TypeSend, p, PriorityInteractive)
}
