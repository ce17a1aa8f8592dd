package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// IdentityRecord is the relational row backing an identity.
type IdentityRecord struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null"`
	Handle      string    `gorm:"column:handle;size:190;not null;uniqueIndex"`
	Email       string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	SecretHash  string    `gorm:"column:secret_hash;size:100;not null"`
	FirstName   string    `gorm:"column:first_name;size:190;not null"`
	LastName    string    `gorm:"column:last_name;size:190;not null"`
	DateOfBirth string    `gorm:"column:dob;size:10;not null"`
	Age         int       `gorm:"column:age;not null"`
	Gender      string    `gorm:"column:gender;size:16;not null"`
	Street      string    `gorm:"column:location_street;size:190"`
	City        string    `gorm:"column:location_city;size:190"`
	State       string    `gorm:"column:location_state;size:190"`
	Country     string    `gorm:"column:location_country;size:190"`
	PostalCode  string    `gorm:"column:location_postal_code;size:32"`
	Bio         string    `gorm:"column:bio;type:text"`
	Hobbies     []string  `gorm:"column:hobbies;serializer:json"`
	Photos      []string  `gorm:"column:photos;serializer:json"`
	Status      string    `gorm:"column:status;size:16;not null;index"`
	Online      bool      `gorm:"column:online;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing identities.
func (IdentityRecord) TableName() string {
	return "identities"
}

// AdminRecord is the relational row backing an administrator.
type AdminRecord struct {
	ID         string    `gorm:"column:id;primaryKey;size:64;not null"`
	Email      string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	SecretHash string    `gorm:"column:secret_hash;size:100;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing administrators.
func (AdminRecord) TableName() string {
	return "admin_identities"
}

// GormStore implements Store and AdminStore on a gorm database.
type GormStore struct {
	db  *gorm.DB
	ids IDProvider
}

// NewGormStore wraps db. Identifiers come from ids, UUIDv7 when nil.
func NewGormStore(db *gorm.DB, ids IDProvider) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &GormStore{db: db, ids: ids}, nil
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return s.findOne(ctx, s.db.WithContext(ctx).Where("email = ?", email))
}

func (s *GormStore) FindByHandle(ctx context.Context, handle string) (Identity, error) {
	return s.findOne(ctx, s.db.WithContext(ctx).Where("handle = ?", handle))
}

func (s *GormStore) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.findOne(ctx, s.db.WithContext(ctx).Omit("secret_hash").Where("id = ?", id))
}

func (s *GormStore) findOne(_ context.Context, query *gorm.DB) (Identity, error) {
	var record IdentityRecord
	if err := query.Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, err
	}
	return record.identity(), nil
}

func (s *GormStore) Insert(ctx context.Context, identity Identity) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	record := newIdentityRecord(identity)
	record.ID = id
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateIdentity
		}
		return "", err
	}
	return id, nil
}

func (s *GormStore) UpdateByID(ctx context.Context, id string, update IdentityUpdate) (Identity, error) {
	var updated Identity
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record IdentityRecord
		if err := tx.Where("id = ?", id).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrIdentityNotFound
			}
			return err
		}
		identity := record.identity()
		update.apply(&identity)
		next := newIdentityRecord(identity)
		next.ID = record.ID
		next.CreatedAt = record.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		updated = next.identity()
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	updated.SecretHash = ""
	return updated, nil
}

func (s *GormStore) Count(ctx context.Context, filter CountFilter) (int64, error) {
	query := s.db.WithContext(ctx).Model(&IdentityRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Online != nil {
		query = query.Where("online = ?", *filter.Online)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) FindAdminByEmail(ctx context.Context, email string) (AdminIdentity, error) {
	var record AdminRecord
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AdminIdentity{}, ErrIdentityNotFound
		}
		return AdminIdentity{}, err
	}
	return AdminIdentity{
		ID:         record.ID,
		Email:      record.Email,
		SecretHash: record.SecretHash,
		CreatedAt:  record.CreatedAt,
	}, nil
}

func (s *GormStore) InsertAdmin(ctx context.Context, admin AdminIdentity) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	record := AdminRecord{ID: id, Email: admin.Email, SecretHash: admin.SecretHash}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateIdentity
		}
		return "", err
	}
	return id, nil
}

func newIdentityRecord(identity Identity) IdentityRecord {
	return IdentityRecord{
		ID:          identity.ID,
		Handle:      identity.Handle,
		Email:       identity.Email,
		SecretHash:  identity.SecretHash,
		FirstName:   identity.FirstName,
		LastName:    identity.LastName,
		DateOfBirth: identity.DateOfBirth,
		Age:         identity.Age,
		Gender:      string(identity.Gender),
		Street:      identity.Location.Street,
		City:        identity.Location.City,
		State:       identity.Location.State,
		Country:     identity.Location.Country,
		PostalCode:  identity.Location.PostalCode,
		Bio:         identity.Bio,
		Hobbies:     nonNil(identity.Hobbies),
		Photos:      nonNil(identity.Photos),
		Status:      string(identity.Status),
		Online:      identity.Online,
		CreatedAt:   identity.CreatedAt,
		UpdatedAt:   identity.UpdatedAt,
	}
}

func (r IdentityRecord) identity() Identity {
	return Identity{
		ID:          r.ID,
		Handle:      r.Handle,
		Email:       r.Email,
		SecretHash:  r.SecretHash,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DateOfBirth: r.DateOfBirth,
		Age:         r.Age,
		Gender:      Gender(r.Gender),
		Location: Location{
			Street:     r.Street,
			City:       r.City,
			State:      r.State,
			Country:    r.Country,
			PostalCode: r.PostalCode,
		},
		Bio:       r.Bio,
		Hobbies:   nonNil(r.Hobbies),
		Photos:    nonNil(r.Photos),
		Status:    Status(r.Status),
		Online:    r.Online,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
