package domain

import "time"

type Article struct {
	GlobalId         int64
	AuthorId         int64
	Title            string
	Body             string
	MdBody           string
	ApId             string
	LikesCount       int64
	SharesCount      int64
	Tags             string
	Summary          string
	CreationDatetime time.Time
}

type Like struct {
	UserId    int64
	ArticleId int64
}

type Share struct {
	UserId           int64
	ArticleId        int64
	AnnounceDatetime time.Time
}
