package model

import (
	"fmt"
	"strings"
)

// Gender 性别选项
type Gender string

const (
	GenderMale           Gender = "Male"
	GenderFemale         Gender = "Female"
	GenderOther          Gender = "Other"
	GenderPreferNotToSay Gender = "Prefer not to say"
)

// Genders lists the selectable genders in display order.
var Genders = []Gender{GenderMale, GenderFemale, GenderOther, GenderPreferNotToSay}

// Interest 取向选项
type Interest string

const (
	InterestBisexual      Interest = "Bisexual"
	InterestStraight      Interest = "Straight"
	InterestGay           Interest = "Gay"
	InterestLesbian       Interest = "Lesbian"
	InterestCuckFantasies Interest = "Cuck Fantasies"
)

// Interests lists the selectable interests in display order.
var Interests = []Interest{InterestBisexual, InterestStraight, InterestGay, InterestLesbian, InterestCuckFantasies}

// Defaults applied at registration when the form leaves them blank.
const (
	DefaultGender   = GenderPreferNotToSay
	DefaultInterest = InterestStraight
)

// ParseGender accepts the display value, case-insensitively.
func ParseGender(s string) (Gender, error) {
	for _, g := range Genders {
		if strings.EqualFold(string(g), strings.TrimSpace(s)) {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown gender %q", s)
}

// ParseInterest accepts the display value, case-insensitively.
func ParseInterest(s string) (Interest, error) {
	for _, i := range Interests {
		if strings.EqualFold(string(i), strings.TrimSpace(s)) {
			return i, nil
		}
	}
	return "", fmt.Errorf("unknown interest %q", s)
}

// User 用户模型。Age 为 0 表示未填写。
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"-"`
	Avatar       string   `json:"avatar"`
	IsOnline     bool     `json:"is_online"`
	Age          int      `json:"age,omitempty"`
	Bio          string   `json:"bio,omitempty"`
	Location     string   `json:"location,omitempty"`
	Gender       Gender   `json:"gender,omitempty"`
	Interest     Interest `json:"interest,omitempty"`
	IsPro        bool     `json:"is_pro"`
}

// AvatarFor returns the generated avatar URI for a username.
func AvatarFor(username string) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s/100/100", username)
}

// Clone returns a copy the caller may mutate freely.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
