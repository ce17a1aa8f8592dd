package users

import (
	"strings"
	"time"
)

// Gender enumerates the accepted gender values.
type Gender string

const (
	GenderMale        Gender = "Male"
	GenderFemale      Gender = "Female"
	GenderTransgender Gender = "Transgender"
)

// ParseGender matches value case-insensitively against the accepted genders.
func ParseGender(value string) (Gender, bool) {
	for _, gender := range []Gender{GenderMale, GenderFemale, GenderTransgender} {
		if strings.EqualFold(normalize(value), string(gender)) {
			return gender, true
		}
	}
	return "", false
}

// Status enumerates the account states of an identity.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusBanned   Status = "Banned"
)

// ParseStatus matches value case-insensitively against the account states.
func ParseStatus(value string) (Status, bool) {
	for _, status := range []Status{StatusActive, StatusInactive, StatusBanned} {
		if strings.EqualFold(normalize(value), string(status)) {
			return status, true
		}
	}
	return "", false
}

// Location is the structured postal location of an identity.
type Location struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

func (l Location) normalized() Location {
	return Location{
		Street:     normalize(l.Street),
		City:       normalize(l.City),
		State:      normalize(l.State),
		Country:    normalize(l.Country),
		PostalCode: normalize(l.PostalCode),
	}
}

// Identity is a registered user record as held by a Store.
type Identity struct {
	ID          string
	Handle      string
	Email       string
	SecretHash  string
	FirstName   string
	LastName    string
	DateOfBirth string
	Age         int
	Gender      Gender
	Location    Location
	Bio         string
	Hobbies     []string
	Photos      []string
	Status      Status
	Online      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PrimaryPhoto is the first stored photo, or empty when there are none.
func (i Identity) PrimaryPhoto() string {
	if len(i.Photos) == 0 {
		return ""
	}
	return i.Photos[0]
}

// Profile projects the identity into its caller-facing form. The secret hash has no
// field here, so no response path can serialize it.
func (i Identity) Profile() Profile {
	return Profile{
		ID:           i.ID,
		Handle:       i.Handle,
		Email:        i.Email,
		FirstName:    i.FirstName,
		LastName:     i.LastName,
		FullName:     strings.TrimSpace(i.FirstName + " " + i.LastName),
		DateOfBirth:  i.DateOfBirth,
		Age:          i.Age,
		Gender:       i.Gender,
		Location:     i.Location,
		Bio:          i.Bio,
		Hobbies:      nonNil(i.Hobbies),
		Photos:       nonNil(i.Photos),
		PrimaryPhoto: i.PrimaryPhoto(),
		Status:       i.Status,
		Online:       i.Online,
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

// Profile is the identity as returned to API callers.
type Profile struct {
	ID           string    `json:"id"`
	Handle       string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	FullName     string    `json:"fullName"`
	DateOfBirth  string    `json:"dob"`
	Age          int       `json:"age"`
	Gender       Gender    `json:"gender"`
	Location     Location  `json:"location"`
	Bio          string    `json:"bio"`
	Hobbies      []string  `json:"hobbies"`
	Photos       []string  `json:"photos"`
	PrimaryPhoto string    `json:"image"`
	Status       Status    `json:"status"`
	Online       bool      `json:"online"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IdentityUpdate lists the mutable attributes of an identity. Nil fields are left untouched.
type IdentityUpdate struct {
	FirstName   *string
	LastName    *string
	DateOfBirth *string
	Age         *int
	Gender      *Gender
	Street      *string
	City        *string
	State       *string
	Country     *string
	PostalCode  *string
	Bio         *string
	Hobbies     *[]string
	Photos      *[]string
	Status      *Status
	Online      *bool
}

// IsEmpty reports whether the update would change nothing.
func (u IdentityUpdate) IsEmpty() bool {
	return u == IdentityUpdate{}
}

// apply copies every set field of the update onto identity.
func (u IdentityUpdate) apply(identity *Identity) {
	assign(&identity.FirstName, u.FirstName)
	assign(&identity.LastName, u.LastName)
	assign(&identity.DateOfBirth, u.DateOfBirth)
	assign(&identity.Age, u.Age)
	assign(&identity.Gender, u.Gender)
	assign(&identity.Location.Street, u.Street)
	assign(&identity.Location.City, u.City)
	assign(&identity.Location.State, u.State)
	assign(&identity.Location.Country, u.Country)
	assign(&identity.Location.PostalCode, u.PostalCode)
	assign(&identity.Bio, u.Bio)
	assign(&identity.Hobbies, u.Hobbies)
	assign(&identity.Photos, u.Photos)
	assign(&identity.Status, u.Status)
	assign(&identity.Online, u.Online)
}

// AdminIdentity is a minimal administrator record kept apart from identities.
type AdminIdentity struct {
	ID         string
	Email      string
	SecretHash string
	CreatedAt  time.Time
}

// AdminView is the administrator as returned to callers.
type AdminView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// View strips the secret hash from the admin record.
func (a AdminIdentity) View() AdminView {
	return AdminView{ID: a.ID, Email: a.Email, CreatedAt: a.CreatedAt}
}

// UserCounts summarizes identities for the user-count endpoint.
type UserCounts struct {
	Total  int64 `json:"total"`
	Online int64 `json:"online"`
	Active int64 `json:"active"`
}

func assign[T any](target *T, value *T) {
	if value != nil {
		*target = *value
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
