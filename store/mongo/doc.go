// Package mongo implements store.Store on MongoDB with mongo-driver/v2.
// Each record is one document in the gateway_workflows collection.
//
// Transitions are optimistic: the document is read, the transition is
// applied in Go, and the write is a conditional UpdateOne on the observed
// version. Progress keys are set individually with $set, so a patch never
// removes a key.
//
// The caller owns the client lifecycle; mongo never closes it:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client.Database("gateway"))
//	store.Migrate(ctx)
package mongo
