package watcher

import (
	"context"
	"encoding/json"
	"fmt"

	"feedwatcher/internal/model"
)

// RequestType tags a request of the message boundary.
type RequestType string

const (
	RequestGetWorkerStatus   RequestType = "GET_WORKER_STATUS"
	RequestTriggerFeedScan   RequestType = "TRIGGER_FEED_SCAN"
	RequestGetPosts          RequestType = "GET_POSTS"
	RequestLoadPostsForDate  RequestType = "LOAD_POSTS_FOR_DATE"
	RequestUpdatePostsCounts RequestType = "UPDATE_POSTS_COUNTS"
)

// Request is one of the request types below. The set is closed.
type Request interface {
	Type() RequestType
	isRequest()
}

type GetWorkerStatus struct{}

type TriggerFeedScan struct {
	FeedID string `json:"feedId"`
}

type GetPosts struct {
	FeedID string `json:"feedId,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type LoadPostsForDate struct {
	FeedID string `json:"feedId"`
	Date   string `json:"date"`
}

type UpdatePostsCounts struct{}

func (GetWorkerStatus) Type() RequestType   { return RequestGetWorkerStatus }
func (TriggerFeedScan) Type() RequestType   { return RequestTriggerFeedScan }
func (GetPosts) Type() RequestType          { return RequestGetPosts }
func (LoadPostsForDate) Type() RequestType  { return RequestLoadPostsForDate }
func (UpdatePostsCounts) Type() RequestType { return RequestUpdatePostsCounts }

func (GetWorkerStatus) isRequest()   {}
func (TriggerFeedScan) isRequest()   {}
func (GetPosts) isRequest()          {}
func (LoadPostsForDate) isRequest()  {}
func (UpdatePostsCounts) isRequest() {}

// Response answers a Request. Only the field matching the request type is set.
//
// The encoding follows the request type: a GET_WORKER_STATUS answer is the
// bare WorkerStatus snapshot, and a successful GET_POSTS or
// LOAD_POSTS_FOR_DATE answer always carries a posts array, empty or not.
type Response struct {
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Status  *model.WorkerStatus `json:"status,omitempty"`
	Result  *model.ScanResult   `json:"result,omitempty"`
	Posts   []model.Post        `json:"posts,omitempty"`
	Updated *int                `json:"updated,omitempty"`

	kind RequestType
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

func postsResponse(kind RequestType, posts []model.Post) Response {
	if posts == nil {
		posts = []model.Post{}
	}
	return Response{Success: true, Posts: posts, kind: kind}
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	switch {
	case r.kind == RequestGetWorkerStatus && r.Status != nil:
		return json.Marshal(r.Status)
	case r.Success && (r.kind == RequestGetPosts || r.kind == RequestLoadPostsForDate):
		posts := r.Posts
		if posts == nil {
			posts = []model.Post{}
		}
		return json.Marshal(struct {
			plain
			Posts []model.Post `json:"posts"`
		}{plain(r), posts})
	default:
		return json.Marshal(plain(r))
	}
}

// DecodeRequest decodes a JSON message of the form {"type": "...", ...payload}.
func DecodeRequest(data []byte) (Request, error) {
	var envelope struct {
		Type RequestType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	var req Request
	switch envelope.Type {
	case RequestGetWorkerStatus:
		return GetWorkerStatus{}, nil
	case RequestUpdatePostsCounts:
		return UpdatePostsCounts{}, nil
	case RequestTriggerFeedScan:
		var r TriggerFeedScan
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", envelope.Type, err)
		}
		if r.FeedID == "" {
			return nil, fmt.Errorf("%s requires feedId", envelope.Type)
		}
		req = r
	case RequestGetPosts:
		var r GetPosts
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", envelope.Type, err)
		}
		req = r
	case RequestLoadPostsForDate:
		var r LoadPostsForDate
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", envelope.Type, err)
		}
		if r.FeedID == "" || r.Date == "" {
			return nil, fmt.Errorf("%s requires feedId and date", envelope.Type)
		}
		req = r
	case "":
		return nil, fmt.Errorf("message has no type")
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
	return req, nil
}

// Handle dispatches req to the engine. Errors are reported in the Response.
func (e *Engine) Handle(ctx context.Context, req Request) Response {
	switch r := req.(type) {
	case GetWorkerStatus:
		status := e.Status()
		return Response{Success: true, Status: &status, kind: RequestGetWorkerStatus}

	case TriggerFeedScan:
		result, err := e.TriggerFeedScan(ctx, r.FeedID)
		if err != nil {
			resp := failure(err)
			resp.Result = result
			return resp
		}
		return Response{Success: true, Result: result}

	case GetPosts:
		posts, err := e.GetPosts(ctx, r.FeedID, r.Limit)
		if err != nil {
			return failure(err)
		}
		return postsResponse(RequestGetPosts, posts)

	case LoadPostsForDate:
		posts, err := e.LoadPostsForDate(ctx, r.FeedID, r.Date)
		if err != nil {
			return failure(err)
		}
		return postsResponse(RequestLoadPostsForDate, posts)

	case UpdatePostsCounts:
		n, err := e.UpdatePostsCounts(ctx)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Updated: &n}

	default:
		return failure(fmt.Errorf("unsupported request %T", req))
	}
}
