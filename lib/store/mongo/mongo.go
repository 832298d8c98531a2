// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/store"
	"github.com/tarancss/audittrail/lib/util"
)

// Database and collection names.
const (
	dbAudit     = "audit"
	colTracked  = "tracked"
	colReceipts = "receipts"
	dbWatch     = "watch"
	colState    = "state"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// MongoTracked implements a store tracked address to MongoDB.
type MongoTracked struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Address string             `json:"address" bson:"address"`
	Owner   string             `json:"owner,omitempty" bson:"owner,omitempty"`
	Auditor string             `json:"auditor,omitempty" bson:"auditor,omitempty"`
}

// Tracked converts a MongoTracked to store.Tracked type.
func (a MongoTracked) Tracked() store.Tracked {
	return store.Tracked{ID: a.ID[:], Address: a.Address, Owner: a.Owner, Auditor: a.Auditor}
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	c, err := mgo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// Track saves a tracked address if the address does not already exist and returns its id.
func (m *Mongo) Track(t store.Tracked) ([]byte, error) {
	var mt MongoTracked

	col := m.c.Database(dbAudit).Collection(colTracked)

	// try and find it
	filter := bson.M{"address": t.Address}
	sr := col.FindOne(context.Background(), filter)

	err := sr.Decode(&mt)
	if errors.Is(err, mgo.ErrNoDocuments) { // if not found, do insert it!!
		res, errIns := col.InsertOne(context.Background(),
			bson.M{"address": t.Address, "owner": t.Owner, "auditor": t.Auditor})
		if errIns != nil {
			return nil, fmt.Errorf("could not insert address in db: %w", errIns)
		}

		return hex.DecodeString(res.InsertedID.(primitive.ObjectID).Hex())
	}

	if err != nil {
		return nil, fmt.Errorf("could not insert address in db: %w", err)
	}

	log.Printf("[%s] Address was already tracked:%+v\n", t.Address, mt)

	return hex.DecodeString(mt.ID.Hex())
}

// Untrack deletes a tracked address from the database.
func (m *Mongo) Untrack(address string) error {
	res, err := m.c.Database(dbAudit).Collection(colTracked).DeleteOne(context.Background(), bson.M{"address": address})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrAddrNotFound
	}

	return err
}

// GetTracked returns the tracked addresses found in addresses, or all of them if addresses is empty.
func (m *Mongo) GetTracked(addresses []string) ([]store.Tracked, error) {
	docs, err := m.c.Database(dbAudit).Collection(colTracked).Find(context.Background(), bson.M{})
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB object: %w", err)
	}
	defer docs.Close(context.Background())

	tracked := []store.Tracked{}

	for docs.Next(context.Background()) {
		var t MongoTracked
		if err = bson.Unmarshal(docs.Current, &t); err != nil {
			log.Printf("Error decoding tracked address:%e\n", err)

			continue
		}

		if len(addresses) == 0 || util.In(addresses, t.Address) {
			tracked = append(tracked, t.Tracked())
		}
	}

	return tracked, docs.Err()
}

// SaveReceipt inserts a submission receipt.
func (m *Mongo) SaveReceipt(r types.Receipt) error {
	if _, err := m.c.Database(dbAudit).Collection(colReceipts).InsertOne(context.Background(), r); err != nil {
		return fmt.Errorf("could not insert receipt in db: %w", err)
	}

	return nil
}

// GetReceipts returns the receipts of the submissions to address (all receipts if empty), oldest first.
func (m *Mongo) GetReceipts(address string) ([]types.Receipt, error) {
	filter := bson.M{}
	if address != "" {
		filter["address"] = address
	}

	docs, err := m.c.Database(dbAudit).Collection(colReceipts).Find(context.Background(), filter,
		options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting receipts: %w", err)
	}

	rs := []types.Receipt{}
	if err = docs.All(context.Background(), &rs); err != nil {
		return nil, fmt.Errorf("error decoding receipts: %w", err)
	}

	return rs, nil
}

// LoadWatcher loads from db the Watcher state.
func (m *Mongo) LoadWatcher() (w store.Watcher, err error) {
	mongoSingleResult := m.c.Database(dbWatch).Collection(colState).FindOne(context.TODO(), bson.D{})
	if err = mongoSingleResult.Decode(&w); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveWatcher saves to db the Watcher state.
func (m *Mongo) SaveWatcher(w store.Watcher) (err error) {
	_, err = m.c.Database(dbWatch).Collection(colState).UpdateOne(context.Background(),
		bson.D{}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "polls", Value: w.Polls},
					{Key: "map", Value: w.Map},
				},
			},
		},
		options.Update().SetUpsert(true))

	return
}

// DeleteWatcher deletes from db the Watcher state.
func (m *Mongo) DeleteWatcher() (err error) {
	_, err = m.c.Database(dbWatch).Collection(colState).DeleteOne(context.Background(), bson.D{}, options.Delete())

	return
}
