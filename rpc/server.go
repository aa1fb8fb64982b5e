package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/deemkeen/rabble/db"
	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
	"github.com/gin-gonic/gin"
)

const maxRequestBody = 1 << 20

// Store is the part of the database the RPC surface exposes directly.
type Store interface {
	CreateUser(u *domain.User) (int64, error)
	ReadUserById(id int64) (error, *domain.User)
	ReadUserByHandle(handle, host string) (error, *domain.User)
	UpdateUser(u *domain.User) error
	DeleteUser(id int64) error

	CreateFollow(f *domain.Follow) error
	ReadFollows(filter domain.FollowFilter) (error, *[]domain.Follow)
	UpdateFollowState(follower, followed int64, state domain.FollowState) error
	DeleteFollow(follower, followed int64) (bool, error)

	CreatePost(a *domain.Article) (int64, error)
	ReadPostById(id int64) (error, *domain.Article)
	ReadPostByApId(apId string) (error, *domain.Article)
	ReadPostsByAuthor(authorId int64, limit int) (error, *[]domain.Article)
	UpdatePost(a *domain.Article) error
	DeletePost(id int64) error
	SafeRemovePost(id int64) (bool, error)
	ReadInstanceFeed(limit int) (error, *[]domain.Article)
	SearchPosts(query string, limit int) (error, *[]domain.Article)

	AddLike(userId, articleId int64) (bool, error)
	RemoveLike(userId, articleId int64) (bool, error)
	ReadLikesByPost(articleId int64) (error, *[]domain.Like)
	ReadLikedByUser(userId int64) (error, *[]domain.Article)

	AddShare(userId, articleId int64, at time.Time) (bool, error)
	ReadShare(userId, articleId int64) (error, *domain.Share)
	ReadSharedPosts(userId int64) (error, *[]domain.Article)
}

var _ Store = (*db.DB)(nil)

// Server answers JSON-RPC 2.0 requests over the store and the federation
// service. Domain outcomes travel in the result as result_type; JSON-RPC
// errors are reserved for protocol failures.
type Server struct {
	store  Store
	svc    *activitypub.Service
	keygen func() (*util.RsaKeyPair, error)
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// reply is the result payload of every method.
type reply struct {
	domain.Result
	Data any `json:"data,omitempty"`
}

func NewServer(store Store, svc *activitypub.Service) *Server {
	return &Server{store: store, svc: svc, keygen: util.GeneratePemKeypair}
}

// Handle serves POST /rpc.
func (s *Server) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusOK, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}
	c.JSON(http.StatusOK, s.dispatch(c.Request.Context(), req))
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "users.get_or_create":
		return s.usersGetOrCreate(ctx, req)
	case "users.find":
		return s.usersFind(req)
	case "users.update":
		return s.usersUpdate(req)
	case "users.delete":
		return s.usersDelete(req)
	case "users.create":
		return s.usersCreate(req)
	case "users.login":
		return s.usersLogin(req)

	case "follows.insert":
		return s.followsInsert(req)
	case "follows.find":
		return s.followsFind(req)
	case "follows.update":
		return s.followsUpdate(req)
	case "follows.delete":
		return s.followsDelete(req)

	case "posts.insert":
		return s.postsInsert(req)
	case "posts.find":
		return s.postsFind(req)
	case "posts.update":
		return s.postsUpdate(req)
	case "posts.delete":
		return s.postsDelete(req)
	case "posts.safe_remove":
		return s.postsSafeRemove(req)
	case "posts.instance_feed":
		return s.postsInstanceFeed(req)
	case "posts.search":
		return s.postsSearch(req)

	case "likes.add", "likes.remove":
		return s.likesChange(req, req.Method == "likes.remove")
	case "likes.collection":
		return s.likesCollection(req)
	case "likes.liked":
		return s.likesLiked(req)

	case "shares.add":
		return s.sharesAdd(req)
	case "shares.find":
		return s.sharesFind(req)
	case "shares.shared_posts":
		return s.sharesSharedPosts(req)

	case "activities.send_follow", "activities.send_unfollow":
		return s.activitiesFollow(ctx, req)
	case "activities.accept_follow", "activities.reject_follow":
		return s.activitiesAnswerFollow(ctx, req)
	case "activities.send_like", "activities.send_unlike", "activities.send_announce", "activities.send_delete":
		return s.activitiesOnArticle(ctx, req)
	case "activities.send_create":
		return s.activitiesCreate(ctx, req)
	case "activities.send_update":
		return s.activitiesUpdate(ctx, req)
	case "activities.receive":
		return s.activitiesReceive(ctx, req)
	}
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
}

// Users

func (s *Server) usersGetOrCreate(ctx context.Context, req request) response {
	var p struct {
		Handle string `json:"handle"`
		Host   string `json:"host"`
	}
	if !decodeParams(req.Params, &p) || p.Handle == "" {
		return invalidParams(req.ID)
	}
	u, err := s.svc.Resolver().ResolveOrCreate(ctx, p.Handle, p.Host)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newUserView(u))
}

func (s *Server) usersFind(req request) response {
	var p struct {
		GlobalId int64  `json:"global_id"`
		Handle   string `json:"handle"`
		Host     string `json:"host"`
	}
	if !decodeParams(req.Params, &p) || (p.GlobalId == 0 && p.Handle == "") {
		return invalidParams(req.ID)
	}
	u, err := s.findUser(p.GlobalId, p.Handle, p.Host)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newUserView(u))
}

func (s *Server) findUser(id int64, handle, host string) (*domain.User, error) {
	var err error
	var u *domain.User
	if id != 0 {
		err, u = s.store.ReadUserById(id)
	} else {
		if s.svc.Resolver().IsLocalHost(host) {
			host = ""
		}
		err, u = s.store.ReadUserByHandle(handle, strings.ToLower(util.StripScheme(host)))
	}
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (s *Server) usersUpdate(req request) response {
	var p struct {
		GlobalId     int64   `json:"global_id"`
		DisplayName  *string `json:"display_name"`
		Bio          *string `json:"bio"`
		Private      *bool   `json:"private"`
		PostTitleCss *string `json:"post_title_css"`
		PostBodyCss  *string `json:"post_body_css"`
	}
	if !decodeParams(req.Params, &p) || p.GlobalId == 0 {
		return invalidParams(req.ID)
	}
	u, err := s.findUser(p.GlobalId, "", "")
	if err != nil {
		return fromError(req.ID, err)
	}
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Private != nil {
		u.Private = *p.Private
	}
	if p.PostTitleCss != nil {
		u.PostTitleCss = *p.PostTitleCss
	}
	if p.PostBodyCss != nil {
		u.PostBodyCss = *p.PostBodyCss
	}
	if err := s.store.UpdateUser(u); err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newUserView(u))
}

func (s *Server) usersDelete(req request) response {
	var p struct {
		GlobalId int64 `json:"global_id"`
	}
	if !decodeParams(req.Params, &p) || p.GlobalId == 0 {
		return invalidParams(req.ID)
	}
	return fromError(req.ID, s.store.DeleteUser(p.GlobalId))
}

func (s *Server) usersCreate(req request) response {
	var p struct {
		Handle      string `json:"handle"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Bio         string `json:"bio"`
		Private     bool   `json:"private"`
	}
	if !decodeParams(req.Params, &p) || p.Handle == "" || strings.ContainsAny(p.Handle, "@/?# ") {
		return invalidParams(req.ID)
	}

	keys, err := s.keygen()
	if err != nil {
		return fromError(req.ID, err)
	}
	u := &domain.User{
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		Private:     p.Private,
		PublicKey:   keys.Public,
		PrivateKey:  keys.Private,
	}
	if u.DisplayName == "" {
		u.DisplayName = p.Handle
	}
	if p.Password != "" {
		if u.Password, err = util.HashPassword(p.Password); err != nil {
			return fromError(req.ID, err)
		}
	}
	if _, err := s.store.CreateUser(u); err != nil {
		return fromError(req.ID, err)
	}
	log.Printf("RPC: created local user %s", u.Handle)
	return ok(req.ID, newUserView(u))
}

func (s *Server) usersLogin(req request) response {
	var p struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if !decodeParams(req.Params, &p) || p.Handle == "" {
		return invalidParams(req.ID)
	}
	err, u := s.store.ReadUserByHandle(p.Handle, "")
	if err != nil || !util.CheckPassword(u.Password, p.Password) {
		return result(req.ID, domain.Denied("invalid handle or password"))
	}
	return ok(req.ID, newUserView(u))
}

// Follows

func (s *Server) followsInsert(req request) response {
	var p struct {
		Follower int64  `json:"follower"`
		Followed int64  `json:"followed"`
		State    string `json:"state"`
	}
	if !decodeParams(req.Params, &p) || p.Follower == 0 || p.Followed == 0 {
		return invalidParams(req.ID)
	}
	state, err := domain.ParseFollowState(p.State)
	if err != nil {
		return fromError(req.ID, err)
	}
	return fromError(req.ID, s.store.CreateFollow(&domain.Follow{Follower: p.Follower, Followed: p.Followed, State: state}))
}

func (s *Server) followsFind(req request) response {
	var p struct {
		Follower int64  `json:"follower"`
		Followed int64  `json:"followed"`
		State    string `json:"state"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	filter := domain.FollowFilter{Follower: p.Follower, Followed: p.Followed}
	if p.State != "" {
		state, err := domain.ParseFollowState(p.State)
		if err != nil {
			return fromError(req.ID, err)
		}
		filter.State = state
	}
	err, follows := s.store.ReadFollows(filter)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newFollowViews(follows))
}

func (s *Server) followsUpdate(req request) response {
	var p struct {
		Follower int64  `json:"follower"`
		Followed int64  `json:"followed"`
		State    string `json:"state"`
	}
	if !decodeParams(req.Params, &p) || p.Follower == 0 || p.Followed == 0 {
		return invalidParams(req.ID)
	}
	state, err := domain.ParseFollowState(p.State)
	if err != nil {
		return fromError(req.ID, err)
	}
	return fromError(req.ID, s.store.UpdateFollowState(p.Follower, p.Followed, state))
}

func (s *Server) followsDelete(req request) response {
	var p struct {
		Follower int64 `json:"follower"`
		Followed int64 `json:"followed"`
	}
	if !decodeParams(req.Params, &p) || p.Follower == 0 || p.Followed == 0 {
		return invalidParams(req.ID)
	}
	deleted, err := s.store.DeleteFollow(p.Follower, p.Followed)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, map[string]bool{"deleted": deleted})
}

// Posts

type postParams struct {
	GlobalId int64  `json:"global_id"`
	AuthorId int64  `json:"author_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	MdBody   string `json:"md_body"`
	ApId     string `json:"ap_id"`
	Summary  string `json:"summary"`
	Tags     string `json:"tags"`
}

func (s *Server) postsInsert(req request) response {
	var p postParams
	if !decodeParams(req.Params, &p) || p.AuthorId == 0 {
		return invalidParams(req.ID)
	}
	a := &domain.Article{
		AuthorId: p.AuthorId,
		Title:    p.Title,
		Body:     p.Body,
		MdBody:   p.MdBody,
		ApId:     p.ApId,
		Summary:  p.Summary,
		Tags:     p.Tags,
	}
	if _, err := s.store.CreatePost(a); err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newArticleView(a))
}

func (s *Server) postsFind(req request) response {
	var p struct {
		GlobalId int64  `json:"global_id"`
		ApId     string `json:"ap_id"`
		AuthorId int64  `json:"author_id"`
		Limit    int    `json:"limit"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}

	var err error
	var a *domain.Article
	switch {
	case p.GlobalId != 0:
		err, a = s.store.ReadPostById(p.GlobalId)
	case p.ApId != "":
		err, a = s.store.ReadPostByApId(util.EnsureScheme(p.ApId))
	case p.AuthorId != 0:
		err, posts := s.store.ReadPostsByAuthor(p.AuthorId, p.Limit)
		if err != nil {
			return fromError(req.ID, err)
		}
		return ok(req.ID, newArticleViews(posts))
	default:
		return invalidParams(req.ID)
	}
	if err != nil {
		return fromError(req.ID, notFound(err, "post"))
	}
	return ok(req.ID, []articleView{newArticleView(a)})
}

func (s *Server) postsUpdate(req request) response {
	var p postParams
	if !decodeParams(req.Params, &p) || p.GlobalId == 0 {
		return invalidParams(req.ID)
	}
	a := &domain.Article{GlobalId: p.GlobalId, Title: p.Title, Body: p.Body, MdBody: p.MdBody, Summary: p.Summary, Tags: p.Tags}
	return fromError(req.ID, s.store.UpdatePost(a))
}

func (s *Server) postsDelete(req request) response {
	var p struct {
		GlobalId int64 `json:"global_id"`
	}
	if !decodeParams(req.Params, &p) || p.GlobalId == 0 {
		return invalidParams(req.ID)
	}
	return fromError(req.ID, s.store.DeletePost(p.GlobalId))
}

func (s *Server) postsSafeRemove(req request) response {
	var p struct {
		GlobalId int64 `json:"global_id"`
	}
	if !decodeParams(req.Params, &p) || p.GlobalId == 0 {
		return invalidParams(req.ID)
	}
	removed, err := s.store.SafeRemovePost(p.GlobalId)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, map[string]bool{"removed": removed})
}

func (s *Server) postsInstanceFeed(req request) response {
	var p struct {
		Limit int `json:"limit"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	err, posts := s.store.ReadInstanceFeed(p.Limit)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newArticleViews(posts))
}

func (s *Server) postsSearch(req request) response {
	var p struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if !decodeParams(req.Params, &p) || strings.TrimSpace(p.Query) == "" {
		return invalidParams(req.ID)
	}
	err, posts := s.store.SearchPosts(p.Query, p.Limit)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newArticleViews(posts))
}

// Likes and shares

type pairParams struct {
	UserId    int64 `json:"user_id"`
	ArticleId int64 `json:"article_id"`
}

func (s *Server) likesChange(req request, remove bool) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.UserId == 0 || p.ArticleId == 0 {
		return invalidParams(req.ID)
	}
	var changed bool
	var err error
	if remove {
		changed, err = s.store.RemoveLike(p.UserId, p.ArticleId)
	} else {
		changed, err = s.store.AddLike(p.UserId, p.ArticleId)
	}
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, map[string]bool{"changed": changed})
}

func (s *Server) likesCollection(req request) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.ArticleId == 0 {
		return invalidParams(req.ID)
	}
	err, likes := s.store.ReadLikesByPost(p.ArticleId)
	if err != nil {
		return fromError(req.ID, err)
	}
	out := []likeView{}
	for _, l := range *likes {
		out = append(out, likeView{UserId: l.UserId, ArticleId: l.ArticleId})
	}
	return ok(req.ID, out)
}

func (s *Server) likesLiked(req request) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.UserId == 0 {
		return invalidParams(req.ID)
	}
	err, posts := s.store.ReadLikedByUser(p.UserId)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newArticleViews(posts))
}

func (s *Server) sharesAdd(req request) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.UserId == 0 || p.ArticleId == 0 {
		return invalidParams(req.ID)
	}
	added, err := s.store.AddShare(p.UserId, p.ArticleId, time.Now())
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, map[string]bool{"changed": added})
}

func (s *Server) sharesFind(req request) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.UserId == 0 || p.ArticleId == 0 {
		return invalidParams(req.ID)
	}
	err, sh := s.store.ReadShare(p.UserId, p.ArticleId)
	if err != nil {
		return fromError(req.ID, notFound(err, "share"))
	}
	return ok(req.ID, shareView{UserId: sh.UserId, ArticleId: sh.ArticleId, AnnounceDatetime: sh.AnnounceDatetime})
}

func (s *Server) sharesSharedPosts(req request) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.UserId == 0 {
		return invalidParams(req.ID)
	}
	err, posts := s.store.ReadSharedPosts(p.UserId)
	if err != nil {
		return fromError(req.ID, err)
	}
	return ok(req.ID, newArticleViews(posts))
}

// Activities

func (s *Server) activitiesFollow(ctx context.Context, req request) response {
	var p struct {
		FollowerId int64  `json:"follower_id"`
		Followed   string `json:"followed"`
	}
	if !decodeParams(req.Params, &p) || p.FollowerId == 0 || p.Followed == "" {
		return invalidParams(req.ID)
	}
	if req.Method == "activities.send_unfollow" {
		return result(req.ID, s.svc.SendUnfollow(ctx, p.FollowerId, p.Followed))
	}
	return result(req.ID, s.svc.SendFollow(ctx, p.FollowerId, p.Followed))
}

func (s *Server) activitiesAnswerFollow(ctx context.Context, req request) response {
	var p struct {
		FollowedId int64  `json:"followed_id"`
		Follower   string `json:"follower"`
	}
	if !decodeParams(req.Params, &p) || p.FollowedId == 0 || p.Follower == "" {
		return invalidParams(req.ID)
	}
	if req.Method == "activities.reject_follow" {
		return result(req.ID, s.svc.RejectFollow(ctx, p.FollowedId, p.Follower))
	}
	return result(req.ID, s.svc.AcceptFollow(ctx, p.FollowedId, p.Follower))
}

func (s *Server) activitiesOnArticle(ctx context.Context, req request) response {
	var p pairParams
	if !decodeParams(req.Params, &p) || p.UserId == 0 || p.ArticleId == 0 {
		return invalidParams(req.ID)
	}
	var res domain.Result
	switch req.Method {
	case "activities.send_like":
		res = s.svc.SendLike(ctx, p.UserId, p.ArticleId)
	case "activities.send_unlike":
		res = s.svc.SendUnlike(ctx, p.UserId, p.ArticleId)
	case "activities.send_announce":
		res = s.svc.SendAnnounce(ctx, p.UserId, p.ArticleId)
	case "activities.send_delete":
		res = s.svc.SendDelete(ctx, p.UserId, p.ArticleId)
	}
	return result(req.ID, res)
}

func (s *Server) activitiesCreate(ctx context.Context, req request) response {
	var p activitypub.ArticleRequest
	if !decodeParams(req.Params, &p) || p.AuthorID == 0 {
		return invalidParams(req.ID)
	}
	res, id := s.svc.SendCreate(ctx, p)
	if res.Type != domain.ResultOK {
		return result(req.ID, res)
	}
	return ok(req.ID, map[string]int64{"global_id": id})
}

func (s *Server) activitiesUpdate(ctx context.Context, req request) response {
	var p activitypub.UpdateRequest
	if !decodeParams(req.Params, &p) || p.UserID == 0 || p.ArticleID == 0 {
		return invalidParams(req.ID)
	}
	return result(req.ID, s.svc.SendUpdate(ctx, p))
}

func (s *Server) activitiesReceive(ctx context.Context, req request) response {
	var p struct {
		Activity json.RawMessage `json:"activity"`
	}
	if !decodeParams(req.Params, &p) || len(p.Activity) == 0 {
		return invalidParams(req.ID)
	}
	return result(req.ID, s.svc.ReceiveRaw(ctx, p.Activity))
}

// Helpers

// decodeParams accepts missing params; handlers check required fields.
func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	return json.Unmarshal(raw, out) == nil
}

func notFound(err error, what string) error {
	if domain.IsNotFound(err) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

func ok(id any, data any) response {
	return response{JSONRPC: "2.0", Result: reply{Result: domain.OK(), Data: data}, ID: id}
}

func result(id any, res domain.Result) response {
	return response{JSONRPC: "2.0", Result: reply{Result: res}, ID: id}
}

func fromError(id any, err error) response {
	if err != nil && !errors.Is(err, domain.ErrDenied) {
		log.Printf("RPC: %v", err)
	}
	return result(id, domain.ResultFromError(err))
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}
