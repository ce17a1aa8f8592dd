package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// IdentitiesCollection holds identity documents.
	IdentitiesCollection = "identities"
	// AdminsCollection holds administrator documents.
	AdminsCollection = "admins"
)

// responseProjection drops the secret hash and the mongoose-era version key.
var responseProjection = bson.D{{Key: "secretHash", Value: 0}, {Key: "__v", Value: 0}}

type identityDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Handle      string             `bson:"handle"`
	Email       string             `bson:"email"`
	SecretHash  string             `bson:"secretHash,omitempty"`
	Name        nameDocument       `bson:"name"`
	DateOfBirth string             `bson:"dob"`
	Age         int                `bson:"age"`
	Gender      string             `bson:"gender"`
	Location    locationDocument   `bson:"location"`
	Bio         string             `bson:"bio"`
	Hobbies     []string           `bson:"hobbies"`
	Photos      []string           `bson:"photos"`
	Status      string             `bson:"status"`
	Online      bool               `bson:"online"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

type nameDocument struct {
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
}

type locationDocument struct {
	Street     string `bson:"street"`
	City       string `bson:"city"`
	State      string `bson:"state"`
	Country    string `bson:"country"`
	PostalCode string `bson:"postalCode"`
}

type adminDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Email      string             `bson:"email"`
	SecretHash string             `bson:"secretHash"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

// MongoStore implements Store and AdminStore on MongoDB collections.
type MongoStore struct {
	identities *mongodriver.Collection
	admins     *mongodriver.Collection
	clock      func() time.Time
}

// NewMongoStore binds the store to the identity and admin collections of db.
func NewMongoStore(db *mongodriver.Database, clock func() time.Time) (*MongoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("users: mongo database required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &MongoStore{
		identities: db.Collection(IdentitiesCollection),
		admins:     db.Collection(AdminsCollection),
		clock:      clock,
	}, nil
}

// EnsureIndexes creates the unique indexes that back email and handle uniqueness.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.identities.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "handle", Value: 1}},
			Options: options.Index().SetName("uniq_handle").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "online", Value: 1}},
			Options: options.Index().SetName("status_online"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure identity indexes: %w", err)
	}
	_, err = s.admins.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("uniq_admin_email").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo ensure admin indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *MongoStore) FindByHandle(ctx context.Context, handle string) (Identity, error) {
	return s.findOne(ctx, bson.D{{Key: "handle", Value: handle}})
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (Identity, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Identity{}, ErrIdentityNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}}, options.FindOne().SetProjection(responseProjection))
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, opts ...*options.FindOneOptions) (Identity, error) {
	var document identityDocument
	if err := s.identities.FindOne(ctx, filter, opts...).Decode(&document); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("mongo find identity: %w", err)
	}
	return document.identity(), nil
}

func (s *MongoStore) Insert(ctx context.Context, identity Identity) (string, error) {
	now := s.now()
	document := newIdentityDocument(identity)
	document.ID = primitive.NilObjectID
	document.CreatedAt = now
	document.UpdatedAt = now

	result, err := s.identities.InsertOne(ctx, document)
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return "", ErrDuplicateIdentity
		}
		return "", fmt.Errorf("mongo insert identity: %w", err)
	}
	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("mongo insert identity: unexpected id type %T", result.InsertedID)
	}
	return oid.Hex(), nil
}

func (s *MongoStore) UpdateByID(ctx context.Context, id string, update IdentityUpdate) (Identity, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Identity{}, ErrIdentityNotFound
	}

	set := updateDocument(update)
	set = append(set, bson.E{Key: "updatedAt", Value: s.now()})

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(responseProjection)

	var document identityDocument
	err = s.identities.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}}, bson.D{{Key: "$set", Value: set}}, opts).Decode(&document)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("mongo update identity: %w", err)
	}
	return document.identity(), nil
}

func (s *MongoStore) Count(ctx context.Context, filter CountFilter) (int64, error) {
	query := bson.D{}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: string(filter.Status)})
	}
	if filter.Online != nil {
		query = append(query, bson.E{Key: "online", Value: *filter.Online})
	}
	count, err := s.identities.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("mongo count identities: %w", err)
	}
	return count, nil
}

func (s *MongoStore) FindAdminByEmail(ctx context.Context, email string) (AdminIdentity, error) {
	var document adminDocument
	if err := s.admins.FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&document); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return AdminIdentity{}, ErrIdentityNotFound
		}
		return AdminIdentity{}, fmt.Errorf("mongo find admin: %w", err)
	}
	return AdminIdentity{
		ID:         document.ID.Hex(),
		Email:      document.Email,
		SecretHash: document.SecretHash,
		CreatedAt:  document.CreatedAt,
	}, nil
}

func (s *MongoStore) InsertAdmin(ctx context.Context, admin AdminIdentity) (string, error) {
	document := adminDocument{Email: admin.Email, SecretHash: admin.SecretHash, CreatedAt: s.now()}
	result, err := s.admins.InsertOne(ctx, document)
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return "", ErrDuplicateIdentity
		}
		return "", fmt.Errorf("mongo insert admin: %w", err)
	}
	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("mongo insert admin: unexpected id type %T", result.InsertedID)
	}
	return oid.Hex(), nil
}

// now truncates to milliseconds, the resolution of BSON dates.
func (s *MongoStore) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func updateDocument(update IdentityUpdate) bson.D {
	set := bson.D{}
	add := func(key string, value any) {
		set = append(set, bson.E{Key: key, Value: value})
	}
	if update.FirstName != nil {
		add("name.firstName", *update.FirstName)
	}
	if update.LastName != nil {
		add("name.lastName", *update.LastName)
	}
	if update.DateOfBirth != nil {
		add("dob", *update.DateOfBirth)
	}
	if update.Age != nil {
		add("age", *update.Age)
	}
	if update.Gender != nil {
		add("gender", string(*update.Gender))
	}
	if update.Street != nil {
		add("location.street", *update.Street)
	}
	if update.City != nil {
		add("location.city", *update.City)
	}
	if update.State != nil {
		add("location.state", *update.State)
	}
	if update.Country != nil {
		add("location.country", *update.Country)
	}
	if update.PostalCode != nil {
		add("location.postalCode", *update.PostalCode)
	}
	if update.Bio != nil {
		add("bio", *update.Bio)
	}
	if update.Hobbies != nil {
		add("hobbies", nonNil(*update.Hobbies))
	}
	if update.Photos != nil {
		add("photos", nonNil(*update.Photos))
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.Online != nil {
		add("online", *update.Online)
	}
	return set
}

func newIdentityDocument(identity Identity) identityDocument {
	return identityDocument{
		Handle:      identity.Handle,
		Email:       identity.Email,
		SecretHash:  identity.SecretHash,
		Name:        nameDocument{FirstName: identity.FirstName, LastName: identity.LastName},
		DateOfBirth: identity.DateOfBirth,
		Age:         identity.Age,
		Gender:      string(identity.Gender),
		Location: locationDocument{
			Street:     identity.Location.Street,
			City:       identity.Location.City,
			State:      identity.Location.State,
			Country:    identity.Location.Country,
			PostalCode: identity.Location.PostalCode,
		},
		Bio:     identity.Bio,
		Hobbies: nonNil(identity.Hobbies),
		Photos:  nonNil(identity.Photos),
		Status:  string(identity.Status),
		Online:  identity.Online,
	}
}

func (d identityDocument) identity() Identity {
	return Identity{
		ID:          d.ID.Hex(),
		Handle:      d.Handle,
		Email:       d.Email,
		SecretHash:  d.SecretHash,
		FirstName:   d.Name.FirstName,
		LastName:    d.Name.LastName,
		DateOfBirth: d.DateOfBirth,
		Age:         d.Age,
		Gender:      Gender(d.Gender),
		Location: Location{
			Street:     d.Location.Street,
			City:       d.Location.City,
			State:      d.Location.State,
			Country:    d.Location.Country,
			PostalCode: d.Location.PostalCode,
		},
		Bio:       d.Bio,
		Hobbies:   nonNil(d.Hobbies),
		Photos:    nonNil(d.Photos),
		Status:    Status(d.Status),
		Online:    d.Online,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
