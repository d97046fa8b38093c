package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	Role      string    `gorm:"size:20;not null;default:'auditor'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
	IsActive *bool  `json:"is_active"`
	Role     string `json:"role"`
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var result LoginInfo

	user := User{}
	err := db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error
	if err != nil {
		return &result, errors.New("invalid username or password")
	}

	err = utils.ComparePassword(user.Password, password)
	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return &result, errors.New("invalid username or password")
	}

	if user.IsActive == nil || !*user.IsActive {
		return &result, errors.New("user is disabled")
	}

	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	token, err := utils.JwtGenerate(utils.Actor{
		Id:    user.Username,
		Name:  user.Name,
		Email: email,
	}, user.Role)
	if err != nil {
		return &result, err
	}

	result.Token = token
	result.Name = user.Name
	result.Role = user.Role
	return &result, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	var count int64

	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return &User{}, errors.New("invalid email address")
	}

	err := db.WithContext(ctx).Model(&User{}).Where("username = ?", input.Username).Or("email = ?", input.Email).Count(&count).Error
	if err != nil {
		return &User{}, err
	}
	if count > 0 {
		return &User{}, errors.New("duplicate username or email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return &User{}, err
	}
	input.Email = strings.ToLower(input.Email)

	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}
	role := input.Role
	if role == "" {
		role = "auditor"
	}

	user := User{
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		Name:     input.Name,
		Email:    nilIfEmpty(input.Email),
		Password: string(hashedPassword),
		IsActive: isActive,
		Role:     role,
	}

	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return &User{}, err
	}
	user.Password = ""
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	result, err := utils.FetchSingleModel[User](ctx, id)
	if err != nil {
		return nil, err
	}
	result.PrepareGive()
	return result, nil
}

func GetAllUsers(ctx context.Context) ([]*User, error) {

	db := config.GetDB()
	var results []*User

	if err := db.WithContext(ctx).Find(&results).Error; err != nil {
		return results, err
	}
	for i, u := range results {
		u.Password = ""
		results[i] = u
	}
	return results, nil
}

func ChangePassword(ctx context.Context, oldPassword string, newPassword string) (*User, error) {
	actor := utils.GetActorFromContext(ctx)
	if actor.Id == "" || actor.Id == utils.SystemActor.Id {
		return nil, errors.New("login is required")
	}

	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("username = ?", actor.Id).Take(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return nil, errors.New("old password is wrong")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Model(&user).UpdateColumn("password", string(hashedPassword)).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
