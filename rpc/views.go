package rpc

import (
	"time"

	"github.com/deemkeen/rabble/domain"
)

type userView struct {
	GlobalId    int64  `json:"global_id"`
	Handle      string `json:"handle"`
	Host        string `json:"host,omitempty"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	PublicKey   string `json:"public_key,omitempty"`
	Private     bool   `json:"private"`
}

func newUserView(u *domain.User) userView {
	return userView{
		GlobalId:    u.GlobalId,
		Handle:      u.Handle,
		Host:        u.Host,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		PublicKey:   u.PublicKey,
		Private:     u.Private,
	}
}

type articleView struct {
	GlobalId         int64     `json:"global_id"`
	AuthorId         int64     `json:"author_id"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	MdBody           string    `json:"md_body"`
	ApId             string    `json:"ap_id,omitempty"`
	LikesCount       int64     `json:"likes_count"`
	SharesCount      int64     `json:"shares_count"`
	Tags             string    `json:"tags"`
	Summary          string    `json:"summary"`
	CreationDatetime time.Time `json:"creation_datetime"`
}

func newArticleView(a *domain.Article) articleView {
	return articleView{
		GlobalId:         a.GlobalId,
		AuthorId:         a.AuthorId,
		Title:            a.Title,
		Body:             a.Body,
		MdBody:           a.MdBody,
		ApId:             a.ApId,
		LikesCount:       a.LikesCount,
		SharesCount:      a.SharesCount,
		Tags:             a.Tags,
		Summary:          a.Summary,
		CreationDatetime: a.CreationDatetime,
	}
}

func newArticleViews(articles *[]domain.Article) []articleView {
	out := []articleView{}
	if articles == nil {
		return out
	}
	for i := range *articles {
		out = append(out, newArticleView(&(*articles)[i]))
	}
	return out
}

type followView struct {
	Follower int64              `json:"follower"`
	Followed int64              `json:"followed"`
	State    domain.FollowState `json:"state"`
}

func newFollowViews(follows *[]domain.Follow) []followView {
	out := []followView{}
	if follows == nil {
		return out
	}
	for _, f := range *follows {
		out = append(out, followView{Follower: f.Follower, Followed: f.Followed, State: f.State})
	}
	return out
}

type likeView struct {
	UserId    int64 `json:"user_id"`
	ArticleId int64 `json:"article_id"`
}

type shareView struct {
	UserId           int64     `json:"user_id"`
	ArticleId        int64     `json:"article_id"`
	AnnounceDatetime time.Time `json:"announce_datetime"`
}
