package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/rabble/domain"
	"github.com/google/uuid"
)

const maxInboxBody = 1 << 20

// inboundActivity is deliberately loose: servers disagree on whether actor
// and target are URIs or embedded objects.
type inboundActivity struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     interface{} `json:"actor"`
	Object    interface{} `json:"object"`
	Target    interface{} `json:"target"`
	Published string      `json:"published"`
}

func (in inboundActivity) activity() Activity {
	return Activity{
		ID:        in.ID,
		Type:      in.Type,
		Actor:     objectID(in.Actor),
		Object:    in.Object,
		Target:    objectID(in.Target),
		Published: in.Published,
	}
}

// ParseActivity decodes an inbound activity document.
func ParseActivity(body []byte) (Activity, error) {
	var in inboundActivity
	if err := json.Unmarshal(body, &in); err != nil {
		return Activity{}, fmt.Errorf("%w: failed to parse activity: %v", domain.ErrInvalid, err)
	}
	if in.Type == "" {
		return Activity{}, fmt.Errorf("%w: activity has no type", domain.ErrInvalid)
	}
	act := in.activity()
	if act.Actor == "" {
		return Activity{}, fmt.Errorf("%w: %s has no actor", domain.ErrInvalid, act.Type)
	}
	return act, nil
}

// Receive dispatches one inbound activity to its handler. Undo is routed
// on the type of the activity it wraps.
func (s *Service) Receive(ctx context.Context, act Activity) domain.Result {
	kind := act.Type
	var res domain.Result
	switch act.Type {
	case "Follow":
		res = s.ReceiveFollow(ctx, act)
	case "Accept":
		res = s.ReceiveAccept(ctx, act)
	case "Reject":
		res = s.ReceiveReject(ctx, act)
	case "Like":
		res = s.ReceiveLike(ctx, act)
	case "Announce":
		res = s.ReceiveAnnounce(ctx, act)
	case "Create":
		res = s.ReceiveCreate(ctx, act)
	case "Update":
		res = s.ReceiveUpdate(ctx, act)
	case "Delete":
		res = s.ReceiveDelete(ctx, act)
	case "Undo":
		inner, ok := nestedActivity(act.Object)
		if !ok {
			res = domain.ResultFromError(fmt.Errorf("%w: Undo without an embedded activity", domain.ErrInvalid))
			break
		}
		kind = "Undo/" + inner.Type
		switch inner.Type {
		case "Follow":
			res = s.ReceiveUnfollow(ctx, act, inner)
		case "Like":
			res = s.ReceiveUnlike(ctx, act, inner)
		default:
			res = domain.ResultFromError(fmt.Errorf("%w: cannot undo %s", domain.ErrInvalid, inner.Type))
		}
	default:
		res = domain.ResultFromError(fmt.Errorf("%w: unsupported activity type %q", domain.ErrInvalid, act.Type))
	}

	InboxActivities.WithLabelValues(kind, res.Type.String()).Inc()
	if res.Type != domain.ResultOK {
		log.Printf("Inbox: %s from %s: %s %s", kind, act.Actor, res.Type, res.Error)
	}
	return res
}

// ReceiveRaw parses body, records it in the activity log and dispatches it.
func (s *Service) ReceiveRaw(ctx context.Context, body []byte) domain.Result {
	act, err := ParseActivity(body)
	if err != nil {
		return domain.ResultFromError(err)
	}
	return s.receiveLogged(ctx, act, body)
}

func (s *Service) receiveLogged(ctx context.Context, act Activity, body []byte) domain.Result {
	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  act.ID,
		ActivityType: act.Type,
		ActorURI:     act.Actor,
		ObjectURI:    objectID(act.Object),
		RawJSON:      string(body),
		CreatedAt:    time.Now(),
	}
	logged := true
	if err := s.db.CreateActivity(record); err != nil {
		log.Printf("Inbox: Failed to store activity: %v", err)
		logged = false
	}

	res := s.Receive(ctx, act)

	if logged {
		if err := s.db.UpdateActivityResult(record.Id, res.Type.String()); err != nil {
			log.Printf("Inbox: Failed to record result of %s: %v", record.Id, err)
		}
	}
	return res
}

// HandleInbox serves POST /ap/@{handle}/inbox and, with an empty handle,
// the shared inbox. OK answers 202, DENIED 403 and ERROR 400.
func (s *Service) HandleInbox(w http.ResponseWriter, r *http.Request, handle string) {
	ctx := r.Context()

	if handle != "" {
		if _, err := s.resolver.Lookup(handle, ""); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, "Unknown inbox", status)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	act, err := ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: %v", err)
		writeResult(w, domain.ResultFromError(err))
		return
	}
	log.Printf("Inbox: Received %s from %s", act.Type, act.Actor)

	if s.conf.Conf.VerifySignatures {
		if err := s.verifyInbound(ctx, r, act); err != nil {
			log.Printf("Inbox: Signature verification failed: %v", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	writeResult(w, s.receiveLogged(ctx, act, body))
}

// verifyInbound checks that the request is signed by the activity's actor.
func (s *Service) verifyInbound(ctx context.Context, r *http.Request, act Activity) error {
	keyActor, err := SignatureActor(r)
	if err != nil {
		return err
	}
	if keyActor != act.Actor {
		return fmt.Errorf("signed by %s but actor is %s", keyActor, act.Actor)
	}
	doc, err := FetchActorDocument(ctx, s.client, s.cache, act.Actor)
	if err != nil {
		return fmt.Errorf("failed to fetch actor %s: %w", act.Actor, err)
	}
	_, err = VerifyRequest(r, doc.PublicKey.PublicKeyPem)
	return err
}

// ResultStatus maps a result onto the inbox HTTP status.
func ResultStatus(res domain.Result) int {
	switch res.Type {
	case domain.ResultOK:
		return http.StatusAccepted
	case domain.ResultDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func writeResult(w http.ResponseWriter, res domain.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ResultStatus(res))
	json.NewEncoder(w).Encode(res)
}

// objectID returns the URI of obj, which may be a URI string or an
// embedded object carrying an id.
func objectID(obj interface{}) string {
	switch v := obj.(type) {
	case string:
		return v
	case map[string]interface{}:
		id, _ := v["id"].(string)
		return id
	case Activity:
		return v.ID
	case *Activity:
		if v != nil {
			return v.ID
		}
	case ArticleObject:
		return v.ID
	case *ArticleObject:
		if v != nil {
			return v.ID
		}
	}
	return ""
}

// nestedActivity extracts the activity wrapped by Undo, Accept or Reject.
func nestedActivity(obj interface{}) (Activity, bool) {
	switch v := obj.(type) {
	case Activity:
		return v, v.Type != ""
	case *Activity:
		if v == nil {
			return Activity{}, false
		}
		return *v, v.Type != ""
	case map[string]interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return Activity{}, false
		}
		var in inboundActivity
		if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
			return Activity{}, false
		}
		return in.activity(), true
	}
	return Activity{}, false
}

// articleObject extracts an embedded Article (or Note) with an id.
func articleObject(obj interface{}) (*ArticleObject, bool) {
	switch v := obj.(type) {
	case ArticleObject:
		return &v, v.ID != ""
	case *ArticleObject:
		return v, v != nil && v.ID != ""
	case map[string]interface{}:
		if kind, _ := v["type"].(string); kind != "Article" && kind != "Note" {
			return nil, false
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var a ArticleObject
		if err := json.Unmarshal(raw, &a); err != nil || a.ID == "" {
			return nil, false
		}
		return &a, true
	}
	return nil, false
}
