package session

import (
	"encoding/json"
	"fmt"
)

// UserKind discriminates the two account types the API returns.
type UserKind string

// User kinds. The values are the JSON wrapper keys used by the API.
const (
	UserKindPerson  UserKind = "UserPerson"
	UserKindCompany UserKind = "UserCompany"
)

// Alias is a contact alias attached to a user.
type Alias struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// User holds the subset of user fields the session keeps. Fields the
// session does not model are dropped on load.
type User struct {
	ID             int64   `json:"id"`
	Created        string  `json:"created,omitempty"`
	Updated        string  `json:"updated,omitempty"`
	PublicUUID     string  `json:"public_uuid,omitempty"`
	DisplayName    string  `json:"display_name,omitempty"`
	PublicNickName string  `json:"public_nick_name,omitempty"`
	FirstName      string  `json:"first_name,omitempty"`
	LastName       string  `json:"last_name,omitempty"`
	LegalName      string  `json:"legal_name,omitempty"`
	Name           string  `json:"name,omitempty"` // companies only
	Language       string  `json:"language,omitempty"`
	Region         string  `json:"region,omitempty"`
	Status         string  `json:"status,omitempty"`
	SubStatus      string  `json:"sub_status,omitempty"`
	Alias          []Alias `json:"alias,omitempty"`
}

// UserInfo is the user attached to an API session. Exactly one of Person
// and Company is set, as named by Kind.
type UserInfo struct {
	Kind    UserKind
	Person  *User
	Company *User
}

// PersonInfo wraps u as a person.
func PersonInfo(u User) *UserInfo {
	return &UserInfo{Kind: UserKindPerson, Person: &u}
}

// CompanyInfo wraps u as a company.
func CompanyInfo(u User) *UserInfo {
	return &UserInfo{Kind: UserKindCompany, Company: &u}
}

// User resolves the populated variant.
func (i *UserInfo) User() (*User, error) {
	if i == nil {
		return nil, ErrNoUserInfo
	}
	switch i.Kind {
	case UserKindPerson:
		if i.Person != nil {
			return i.Person, nil
		}
	case UserKindCompany:
		if i.Company != nil {
			return i.Company, nil
		}
	}
	return nil, ErrUnknownUserKind.WithDetails(fmt.Sprintf("kind %q", i.Kind))
}

// MarshalJSON writes the wrapped form, {"UserPerson": {...}}.
func (i UserInfo) MarshalJSON() ([]byte, error) {
	switch {
	case i.Kind == UserKindPerson && i.Person != nil:
		return json.Marshal(map[UserKind]*User{UserKindPerson: i.Person})
	case i.Kind == UserKindCompany && i.Company != nil:
		return json.Marshal(map[UserKind]*User{UserKindCompany: i.Company})
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON reads the wrapped form. A person wins when both keys are
// present. An object with neither key decodes to an empty Kind.
func (i *UserInfo) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Person  *User `json:"UserPerson"`
		Company *User `json:"UserCompany"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("session: decode user info: %w", err)
	}

	*i = UserInfo{}
	switch {
	case wrapped.Person != nil:
		i.Kind, i.Person = UserKindPerson, wrapped.Person
	case wrapped.Company != nil:
		i.Kind, i.Company = UserKindCompany, wrapped.Company
	}
	return nil
}
