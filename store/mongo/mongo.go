/*
Package mongo provides a MongoDB-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.TxStore and billing.Catalog on MongoDB. Money is stored
  as Decimal128, dates as UTC midnight timestamps.

COLLECTIONS:
  billings, terms, deposits
  students, financial_supports, registration_profiles,
  termination_of_payments (term payments embedded)

TRANSACTIONS:
  WithTx runs fn inside a session transaction, which needs a replica set
  or a sharded cluster. A standalone server rejects it.

USAGE:
  m, err := mongo.Connect(ctx, "mongodb://localhost:27017/?replicaSet=rs0", "billing")
  if err != nil {
      log.Fatal(err)
  }
  defer m.Close(ctx)

SEE ALSO:
  - store/sqlite: Embedded alternative
*/
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/warp/billing-engine/billing"
)

const (
	BillingsCollection              = "billings"
	TermsCollection                 = "terms"
	DepositsCollection              = "deposits"
	StudentsCollection              = "students"
	FinancialSupportsCollection     = "financial_supports"
	RegistrationProfilesCollection  = "registration_profiles"
	TerminationOfPaymentsCollection = "termination_of_payments"
)

// Store implements billing.TxStore and billing.Catalog.
type Store struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect opens a client, pings the primary and ensures indexes exist.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	s := &Store{Client: client, Database: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.Client != nil {
		return s.Client.Disconnect(ctx)
	}
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string]bson.D{
		BillingsCollection:          {{Key: "student_id", Value: 1}},
		TermsCollection:             {{Key: "billing_id", Value: 1}},
		DepositsCollection:          {{Key: "billing_id", Value: 1}},
		FinancialSupportsCollection: {{Key: "student_id", Value: 1}, {Key: "status", Value: 1}},
	}
	for coll, keys := range indexes {
		if _, err := s.Database.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys}); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.Database.Collection(name)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type billingDoc struct {
	ID                    string               `bson:"_id"`
	StudentID             string               `bson:"student_id"`
	RegistrationProfileID string               `bson:"registration_profile_id"`
	PayerID               string               `bson:"payer_id"`
	PayerType             string               `bson:"payer_type"`
	TotalAmount           primitive.Decimal128 `bson:"total_amount"`
	PaidAmount            primitive.Decimal128 `bson:"paid_amount"`
	RemainingDue          primitive.Decimal128 `bson:"remaining_due"`
	DepositID             string               `bson:"deposit_id,omitempty"`
	TermIDs               []string             `bson:"term_ids"`
	CreatedAt             time.Time            `bson:"created_at"`
}

type installmentDoc struct {
	ID              string               `bson:"_id"`
	BillingID       string               `bson:"billing_id,omitempty"`
	PaymentDate     time.Time            `bson:"payment_date"`
	Amount          primitive.Decimal128 `bson:"amount"`
	AmountPaid      primitive.Decimal128 `bson:"amount_paid"`
	RemainingAmount primitive.Decimal128 `bson:"remaining_amount"`
	PaymentStatus   string               `bson:"payment_status"`
	CreatedAt       time.Time            `bson:"created_at"`
}

// toDecimal128 fails when d has more than 34 significant digits or an
// exponent outside the Decimal128 range.
func toDecimal128(field string, d decimal.Decimal) (primitive.Decimal128, error) {
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("%s %s does not fit Decimal128: %w", field, d.String(), err)
	}
	return out, nil
}

// decimalEncoder converts several amounts and keeps the first failure.
type decimalEncoder struct {
	err error
}

func (e *decimalEncoder) encode(field string, d decimal.Decimal) primitive.Decimal128 {
	out, err := toDecimal128(field, d)
	if err != nil && e.err == nil {
		e.err = err
	}
	return out
}

func fromDecimal128(field string, d primitive.Decimal128) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, d.String(), err)
	}
	return out, nil
}

func (d billingDoc) toBilling() (billing.Billing, error) {
	b := billing.Billing{
		ID:                    d.ID,
		StudentID:             d.StudentID,
		RegistrationProfileID: d.RegistrationProfileID,
		PayerID:               d.PayerID,
		PayerType:             billing.PayerType(d.PayerType),
		DepositID:             d.DepositID,
		TermIDs:               d.TermIDs,
	}
	var err error
	if b.TotalAmount, err = fromDecimal128("total_amount", d.TotalAmount); err != nil {
		return b, err
	}
	if b.PaidAmount, err = fromDecimal128("paid_amount", d.PaidAmount); err != nil {
		return b, err
	}
	if b.RemainingDue, err = fromDecimal128("remaining_due", d.RemainingDue); err != nil {
		return b, err
	}
	return b, nil
}

func (d installmentDoc) toInstallment() (billing.Installment, error) {
	inst := billing.Installment{
		ID:        d.ID,
		BillingID: d.BillingID,
		Date:      billing.Date{Time: d.PaymentDate.UTC()},
		Status:    billing.PaymentStatus(d.PaymentStatus),
	}
	var err error
	if inst.Amount, err = fromDecimal128("amount", d.Amount); err != nil {
		return inst, err
	}
	if inst.AmountPaid, err = fromDecimal128("amount_paid", d.AmountPaid); err != nil {
		return inst, err
	}
	if inst.RemainingAmount, err = fromDecimal128("remaining_amount", d.RemainingAmount); err != nil {
		return inst, err
	}
	return inst, nil
}

func installmentCollection(kind billing.InstallmentKind) (string, error) {
	switch kind {
	case billing.KindTerm:
		return TermsCollection, nil
	case billing.KindDeposit:
		return DepositsCollection, nil
	}
	return "", fmt.Errorf("unknown installment kind %q", kind)
}

// =============================================================================
// BILLING STORE (billing.Store interface)
// =============================================================================

func (s *Store) FindBilling(ctx context.Context, id string, lookups ...billing.Lookup) (*billing.Billing, error) {
	var doc billingDoc
	err := s.coll(BillingsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b, err := doc.toBilling()
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, &b, lookups); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) FindBillingsByStudent(ctx context.Context, studentID string, lookups ...billing.Lookup) ([]billing.Billing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll(BillingsCollection).Find(ctx, bson.M{"student_id": studentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	result := make([]billing.Billing, 0)
	for cur.Next(ctx) {
		var doc billingDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		b, err := doc.toBilling()
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if err := s.resolve(ctx, &result[i], lookups); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) CountBillingsByStudent(ctx context.Context, studentID string) (int, error) {
	n, err := s.coll(BillingsCollection).CountDocuments(ctx, bson.M{"student_id": studentID})
	return int(n), err
}

func (s *Store) resolve(ctx context.Context, b *billing.Billing, lookups []billing.Lookup) error {
	if billing.HasLookup(lookups, billing.LookupDeposit) && b.DepositID != "" {
		deps, err := s.installmentsByID(ctx, billing.KindDeposit, []string{b.DepositID})
		if err != nil {
			return err
		}
		if len(deps) == 1 {
			b.Deposit = &deps[0]
		}
	}
	if billing.HasLookup(lookups, billing.LookupTerms) && len(b.TermIDs) > 0 {
		terms, err := s.installmentsByID(ctx, billing.KindTerm, b.TermIDs)
		if err != nil {
			return err
		}
		b.Terms = terms
	}
	return nil
}

// installmentsByID returns the installments in the order of ids, skipping
// ids that do not exist.
func (s *Store) installmentsByID(ctx context.Context, kind billing.InstallmentKind, ids []string) ([]billing.Installment, error) {
	name, err := installmentCollection(kind)
	if err != nil {
		return nil, err
	}
	cur, err := s.coll(name).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	found := make(map[string]billing.Installment, len(ids))
	for cur.Next(ctx) {
		var doc installmentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		inst, err := doc.toInstallment()
		if err != nil {
			return nil, err
		}
		found[inst.ID] = inst
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	result := make([]billing.Installment, 0, len(ids))
	for _, id := range ids {
		if inst, ok := found[id]; ok {
			result = append(result, inst)
		}
	}
	return result, nil
}

func (s *Store) InsertBilling(ctx context.Context, b billing.Billing) (billing.Billing, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	termIDs := b.TermIDs
	if termIDs == nil {
		termIDs = []string{}
	}
	var enc decimalEncoder
	doc := billingDoc{
		ID:                    b.ID,
		StudentID:             b.StudentID,
		RegistrationProfileID: b.RegistrationProfileID,
		PayerID:               b.PayerID,
		PayerType:             string(b.PayerType),
		TotalAmount:           enc.encode("total_amount", b.TotalAmount),
		PaidAmount:            enc.encode("paid_amount", b.PaidAmount),
		RemainingDue:          enc.encode("remaining_due", b.RemainingDue),
		DepositID:             b.DepositID,
		TermIDs:               termIDs,
		CreatedAt:             time.Now().UTC(),
	}
	if enc.err != nil {
		return billing.Billing{}, enc.err
	}
	if _, err := s.coll(BillingsCollection).InsertOne(ctx, doc); err != nil {
		return billing.Billing{}, err
	}
	out := b.Clone()
	out.Deposit = nil
	out.Terms = nil
	return out, nil
}

func (s *Store) UpdateBilling(ctx context.Context, id string, patch billing.BillingPatch) error {
	var enc decimalEncoder
	set := bson.M{}
	if patch.PaidAmount != nil {
		set["paid_amount"] = enc.encode("paid_amount", *patch.PaidAmount)
	}
	if patch.RemainingDue != nil {
		set["remaining_due"] = enc.encode("remaining_due", *patch.RemainingDue)
	}
	if enc.err != nil {
		return enc.err
	}
	if patch.DepositID != nil {
		set["deposit_id"] = *patch.DepositID
	}
	if patch.TermIDs != nil {
		set["term_ids"] = patch.TermIDs
	}
	if len(set) == 0 {
		return nil
	}

	res, err := s.coll(BillingsCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("billing %s not found", id)
	}
	return nil
}

func (s *Store) InsertInstallments(ctx context.Context, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	name, err := installmentCollection(kind)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return []billing.Installment{}, nil
	}

	var enc decimalEncoder
	now := time.Now().UTC()
	out := make([]billing.Installment, len(recs))
	docs := make([]any, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		docs[i] = installmentDoc{
			ID:              r.ID,
			BillingID:       r.BillingID,
			PaymentDate:     r.Date.Time,
			Amount:          enc.encode("amount", r.Amount),
			AmountPaid:      enc.encode("amount_paid", r.AmountPaid),
			RemainingAmount: enc.encode("remaining_amount", r.RemainingAmount),
			PaymentStatus:   string(r.Status),
			CreatedAt:       now,
		}
		out[i] = r
	}
	if enc.err != nil {
		return nil, enc.err
	}
	if _, err := s.coll(name).InsertMany(ctx, docs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateInstallments(ctx context.Context, kind billing.InstallmentKind, recs []billing.Installment) error {
	name, err := installmentCollection(kind)
	if err != nil {
		return err
	}
	for _, r := range recs {
		var enc decimalEncoder
		update := bson.M{"$set": bson.M{
			"amount_paid":      enc.encode("amount_paid", r.AmountPaid),
			"remaining_amount": enc.encode("remaining_amount", r.RemainingAmount),
			"payment_status":   string(r.Status),
		}}
		if enc.err != nil {
			return enc.err
		}
		res, err := s.coll(name).UpdateOne(ctx, bson.M{"_id": r.ID}, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%s %s not found", kind, r.ID)
		}
	}
	return nil
}

func (s *Store) LinkInstallments(ctx context.Context, kind billing.InstallmentKind, ids []string, billingID string) error {
	name, err := installmentCollection(kind)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	res, err := s.coll(name).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"billing_id": billingID}})
	if err != nil {
		return err
	}
	if res.MatchedCount != int64(len(ids)) {
		return fmt.Errorf("%s link: matched %d of %d", kind, res.MatchedCount, len(ids))
	}
	return nil
}

func (s *Store) DeleteBillingsByStudent(ctx context.Context, studentID string) error {
	bs, err := s.FindBillingsByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if len(bs) == 0 {
		return nil
	}

	var billingIDs, depositIDs, termIDs []string
	for _, b := range bs {
		billingIDs = append(billingIDs, b.ID)
		if b.DepositID != "" {
			depositIDs = append(depositIDs, b.DepositID)
		}
		termIDs = append(termIDs, b.TermIDs...)
	}

	deletes := []struct {
		coll   string
		filter bson.M
	}{
		{DepositsCollection, bson.M{"$or": bson.A{
			bson.M{"billing_id": bson.M{"$in": billingIDs}},
			bson.M{"_id": bson.M{"$in": nonNil(depositIDs)}},
		}}},
		{TermsCollection, bson.M{"$or": bson.A{
			bson.M{"billing_id": bson.M{"$in": billingIDs}},
			bson.M{"_id": bson.M{"$in": nonNil(termIDs)}},
		}}},
		{BillingsCollection, bson.M{"student_id": studentID}},
	}
	for _, d := range deletes {
		if _, err := s.coll(d.coll).DeleteMany(ctx, d.filter); err != nil {
			return fmt.Errorf("delete from %s: %w", d.coll, err)
		}
	}
	return nil
}

// nonNil keeps $in from receiving a null array.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a session transaction. The driver retries fn on
// transient transaction errors.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	sess, err := s.Client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&txStore{parent: s, sc: sc})
	})
	return err
}

// txStore binds every call to the session context.
type txStore struct {
	parent *Store
	sc     mongo.SessionContext
}

func (ts *txStore) FindBilling(_ context.Context, id string, lookups ...billing.Lookup) (*billing.Billing, error) {
	return ts.parent.FindBilling(ts.sc, id, lookups...)
}

func (ts *txStore) FindBillingsByStudent(_ context.Context, studentID string, lookups ...billing.Lookup) ([]billing.Billing, error) {
	return ts.parent.FindBillingsByStudent(ts.sc, studentID, lookups...)
}

func (ts *txStore) CountBillingsByStudent(_ context.Context, studentID string) (int, error) {
	return ts.parent.CountBillingsByStudent(ts.sc, studentID)
}

func (ts *txStore) InsertBilling(_ context.Context, b billing.Billing) (billing.Billing, error) {
	return ts.parent.InsertBilling(ts.sc, b)
}

func (ts *txStore) UpdateBilling(_ context.Context, id string, patch billing.BillingPatch) error {
	return ts.parent.UpdateBilling(ts.sc, id, patch)
}

func (ts *txStore) InsertInstallments(_ context.Context, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	return ts.parent.InsertInstallments(ts.sc, kind, recs)
}

func (ts *txStore) UpdateInstallments(_ context.Context, kind billing.InstallmentKind, recs []billing.Installment) error {
	return ts.parent.UpdateInstallments(ts.sc, kind, recs)
}

func (ts *txStore) LinkInstallments(_ context.Context, kind billing.InstallmentKind, ids []string, billingID string) error {
	return ts.parent.LinkInstallments(ts.sc, kind, ids, billingID)
}

func (ts *txStore) DeleteBillingsByStudent(_ context.Context, studentID string) error {
	return ts.parent.DeleteBillingsByStudent(ts.sc, studentID)
}

// Reset drops every collection (for demo/testing).
func (s *Store) Reset(ctx context.Context) error {
	return s.Database.Drop(ctx)
}
