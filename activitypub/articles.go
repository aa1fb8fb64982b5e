package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
)

// ArticleRequest carries the fields a local author submits.
type ArticleRequest struct {
	AuthorID int64  `json:"author_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	MdBody   string `json:"md_body"`
	Summary  string `json:"summary"`
	Tags     string `json:"tags"`
}

// UpdateRequest edits an article owned by UserID.
type UpdateRequest struct {
	UserID    int64  `json:"user_id"`
	ArticleID int64  `json:"article_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	MdBody    string `json:"md_body"`
	Summary   string `json:"summary"`
}

// SendCreate stores a new local article and announces it to the author's
// followers. The new article id is returned alongside the result.
func (s *Service) SendCreate(ctx context.Context, req ArticleRequest) (domain.Result, int64) {
	author, err := s.localUser(req.AuthorID)
	if err != nil {
		return domain.ResultFromError(err), 0
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" && strings.TrimSpace(req.MdBody) == "" {
		return domain.ResultFromError(fmt.Errorf("%w: article has no content", domain.ErrInvalid)), 0
	}
	body := req.Body
	if body == "" {
		body = util.MarkdownLinksToHTML(req.MdBody)
	}

	article := &domain.Article{
		AuthorId: author.GlobalId,
		Title:    req.Title,
		Body:     body,
		MdBody:   req.MdBody,
		Summary:  req.Summary,
		Tags:     req.Tags,
	}
	if _, err := s.db.CreatePost(article); err != nil {
		return domain.ResultFromError(err), 0
	}
	log.Printf("Create: %s published article %d", author.Address(), article.GlobalId)

	s.relay(ctx, author.GlobalId, s.builder.Create(author, article))
	return domain.OK(), article.GlobalId
}

// ReceiveCreate stores a foreign article. Receiving it twice is harmless.
func (s *Service) ReceiveCreate(ctx context.Context, act Activity) domain.Result {
	obj, ok := articleObject(act.Object)
	if !ok {
		return domain.ResultFromError(fmt.Errorf("%w: Create without an article object", domain.ErrInvalid))
	}
	if obj.AttributedTo != "" && obj.AttributedTo != act.Actor {
		return domain.Denied("%s cannot create an article attributed to %s", act.Actor, obj.AttributedTo)
	}
	author, err := s.resolver.ResolveActorURI(ctx, act.Actor)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if _, err := s.materialize(obj, author); err != nil {
		return domain.ResultFromError(err)
	}
	return domain.OK()
}

// materialize returns the local copy of a foreign article, creating it
// from obj when missing.
func (s *Service) materialize(obj *ArticleObject, author *domain.User) (*domain.Article, error) {
	existing, err := s.findArticle(obj.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if host, _, _, perr := ParseArticleURI(obj.ID); perr == nil && s.resolver.IsLocalHost(host) {
		// Our own URI space; nothing foreign can add rows to it.
		return nil, err
	}

	article := &domain.Article{
		AuthorId: author.GlobalId,
		Title:    obj.Name,
		Body:     obj.Content,
		ApId:     util.EnsureScheme(obj.ID),
		Summary:  obj.Summary,
		Tags:     hashtagsToTags(obj.Tag),
	}
	if obj.Source != nil {
		article.MdBody = obj.Source.Content
	}
	if published, perr := time.Parse(time.RFC3339, obj.Published); perr == nil {
		article.CreationDatetime = published
	}

	if _, err := s.db.CreatePost(article); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return s.findArticle(obj.ID)
		}
		return nil, err
	}
	log.Printf("Inbox: stored article %s by %s as %d", article.ApId, author.Address(), article.GlobalId)
	return article, nil
}

// SendUpdate edits a local article. Only its author may do that.
func (s *Service) SendUpdate(ctx context.Context, req UpdateRequest) domain.Result {
	article, err := s.readArticle(req.ArticleID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if article.AuthorId != req.UserID {
		return domain.Denied("user %d is not the author of article %d", req.UserID, req.ArticleID)
	}
	author, err := s.localUser(req.UserID)
	if err != nil {
		return domain.ResultFromError(err)
	}

	body := req.Body
	if body == "" && req.MdBody != "" {
		body = util.MarkdownLinksToHTML(req.MdBody)
	}
	if err := s.db.UpdatePostContent(article.GlobalId, req.Title, body, req.MdBody, req.Summary); err != nil {
		return domain.ResultFromError(err)
	}
	article.Title, article.Body, article.MdBody, article.Summary = req.Title, body, req.MdBody, req.Summary
	log.Printf("Update: %s edited article %d", author.Address(), article.GlobalId)

	s.relay(ctx, author.GlobalId, s.builder.Update(author, article))
	return domain.OK()
}

// ReceiveUpdate overwrites a foreign article matched strictly by ap_id.
// Updates are not relayed.
func (s *Service) ReceiveUpdate(ctx context.Context, act Activity) domain.Result {
	obj, ok := articleObject(act.Object)
	if !ok {
		return domain.ResultFromError(fmt.Errorf("%w: Update without an article object", domain.ErrInvalid))
	}
	err, article := s.db.ReadPostByApId(util.EnsureScheme(obj.ID))
	if domain.IsNotFound(err) {
		log.Printf("Inbox: Update for unknown article %s ignored", obj.ID)
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(fmt.Errorf("failed to read article %s: %w", obj.ID, err))
	}

	author, err := s.readUser(article.AuthorId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !s.resolver.ActorURIMatches(ctx, act.Actor, author) {
		return domain.Denied("%s is not the author of %s", act.Actor, obj.ID)
	}

	mdBody := article.MdBody
	if obj.Source != nil {
		mdBody = obj.Source.Content
	}
	if err := s.db.UpdatePostContent(article.GlobalId, obj.Name, obj.Content, mdBody, obj.Summary); err != nil {
		return domain.ResultFromError(err)
	}
	log.Printf("Inbox: updated article %s", article.ApId)
	return domain.OK()
}

// SendDelete removes a local article and tells the author's followers and
// the followers of everyone who shared it.
func (s *Service) SendDelete(ctx context.Context, userID, articleID int64) domain.Result {
	article, err := s.readArticle(articleID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if article.AuthorId != userID {
		return domain.Denied("user %d is not the author of article %d", userID, articleID)
	}
	author, err := s.localUser(userID)
	if err != nil {
		return domain.ResultFromError(err)
	}

	sharers, err := s.sharersOf(article.GlobalId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	act := s.builder.Delete(author, article)

	removed, err := s.db.SafeRemovePost(article.GlobalId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !removed {
		return domain.OK()
	}
	log.Printf("Delete: %s removed article %d", author.Address(), article.GlobalId)

	s.relay(ctx, author.GlobalId, act)
	for _, id := range sharers {
		if id != author.GlobalId {
			s.relay(ctx, id, act)
		}
	}
	return domain.OK()
}

// ReceiveDelete removes a foreign article. An article we never had, or
// already removed, is not an error.
func (s *Service) ReceiveDelete(ctx context.Context, act Activity) domain.Result {
	uri := objectID(act.Object)
	article, err := s.findArticle(uri)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("Inbox: Delete for absent article %s", uri)
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}

	author, err := s.readUser(article.AuthorId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !s.resolver.ActorURIMatches(ctx, act.Actor, author) {
		return domain.Denied("%s is not the author of %s", act.Actor, uri)
	}

	sharers, err := s.sharersOf(article.GlobalId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	removed, err := s.db.SafeRemovePost(article.GlobalId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !removed {
		return domain.OK()
	}
	log.Printf("Inbox: deleted article %s", uri)

	for _, id := range sharers {
		s.relay(ctx, id, act)
	}
	return domain.OK()
}

func (s *Service) sharersOf(articleID int64) ([]int64, error) {
	err, shares := s.db.ReadSharesByPost(articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to read shares of article %d: %w", articleID, err)
	}
	ids := make([]int64, 0, len(*shares))
	for _, sh := range *shares {
		ids = append(ids, sh.UserId)
	}
	return ids, nil
}
