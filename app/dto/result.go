package dto

import "github.com/upak-space/upak-auth/app/entity"

type LoginResult struct {
	User      *entity.User
	Token     string
	ExpiresIn int64
}
