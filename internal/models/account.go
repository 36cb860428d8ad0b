// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"
)

// MaxLoginHistory is the number of login events kept per account.
const MaxLoginHistory = 10

// Account is one registered person. An account is either pending
// verification (IsVerified false) or verified; verified accounts carry no
// verification fields except while a login code is outstanding.
type Account struct { //nolint:govet // fieldalignment: readability over optimization
	ID           string `bson:"_id" json:"id"`
	Email        string `bson:"email" json:"email"`
	Username     string `bson:"username" json:"username"`
	PasswordHash string `bson:"passwordHash" json:"-"`
	Avatar       string `bson:"avatar" json:"avatar"`
	Banner       string `bson:"banner" json:"banner"`

	IsVerified             bool       `bson:"isVerified" json:"isVerified"`
	VerificationCode       *string    `bson:"verificationCode" json:"-"`
	VerificationCodeExpire *time.Time `bson:"verificationCodeExpire" json:"-"`
	VerificationAttempts   int        `bson:"verificationAttempts" json:"-"`
	LastVerificationSent   *time.Time `bson:"lastVerificationSent" json:"-"`
	UnverifiedExpire       *time.Time `bson:"unverifiedExpire" json:"-"`

	LoginHistory []LoginEvent `bson:"loginHistory" json:"loginHistory"`

	GameLimit          int        `bson:"gameLimit" json:"gameLimit"`
	SubscriptionExpiry *time.Time `bson:"subscriptionExpiry" json:"subscriptionExpiry"`

	ProfileURL   *string       `bson:"profileUrl" json:"profileUrl"`
	ProfileStats *ProfileStats `bson:"profileStats" json:"profileStats"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// LoginEvent records where a successful verification came from.
type LoginEvent struct {
	IP       string `bson:"ip" json:"ip"`
	Browser  string `bson:"browser" json:"browser"`
	OS       string `bson:"os" json:"os"`
	Device   string `bson:"device" json:"device"`
	Location string `bson:"location" json:"location"`
	Timezone string `bson:"timezone" json:"timezone"`
	Date     string `bson:"date" json:"date"`
}

// ProfileStats is the game-library summary merged into the account.
// It is always replaced as a whole.
type ProfileStats struct {
	TotalGames         int       `bson:"totalGames" json:"totalGames"`
	TotalPlaytimeHours int       `bson:"totalPlaytimeHours" json:"totalPlaytimeHours"`
	TotalAchievements  int       `bson:"totalAchievements" json:"totalAchievements"`
	IsPrivate          bool      `bson:"isPrivate" json:"isPrivate"`
	LastSync           time.Time `bson:"lastSync" json:"lastSync"`
}

// HasPendingCode reports whether a verification code is outstanding.
func (a *Account) HasPendingCode() bool {
	return a.VerificationCode != nil && a.VerificationCodeExpire != nil
}

// SetPendingCode stores a freshly issued code. Unverified accounts mirror
// the code expiry into UnverifiedExpire so abandoned signups can be reaped.
func (a *Account) SetPendingCode(code string, sentAt, expiresAt time.Time) {
	a.VerificationCode = &code
	a.VerificationCodeExpire = &expiresAt
	a.VerificationAttempts = 0
	a.LastVerificationSent = &sentAt
	if !a.IsVerified {
		a.UnverifiedExpire = &expiresAt
	}
}

// ClearPendingCode drops the outstanding code but keeps the cooldown and
// the reaping deadline.
func (a *Account) ClearPendingCode() {
	a.VerificationCode = nil
	a.VerificationCodeExpire = nil
	a.VerificationAttempts = 0
}

// MarkVerified clears every verification field and flips the account to
// verified.
func (a *Account) MarkVerified() {
	a.ClearPendingCode()
	a.UnverifiedExpire = nil
	a.IsVerified = true
}

// PushLoginEvent inserts ev at the front of the history and drops the
// oldest entries beyond MaxLoginHistory.
func (a *Account) PushLoginEvent(ev LoginEvent) {
	history := make([]LoginEvent, 0, len(a.LoginHistory)+1)
	history = append(history, ev)
	history = append(history, a.LoginHistory...)
	if len(history) > MaxLoginHistory {
		history = history[:MaxLoginHistory]
	}
	a.LoginHistory = history
}
