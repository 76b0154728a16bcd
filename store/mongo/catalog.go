package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// DOCUMENTS
// =============================================================================

type studentDoc struct {
	ID                    string `bson:"_id"`
	Civility              string `bson:"civility"`
	FirstName             string `bson:"first_name"`
	LastName              string `bson:"last_name"`
	RegistrationProfileID string `bson:"registration_profile_id"`
}

type supportDoc struct {
	ID        string `bson:"_id"`
	StudentID string `bson:"student_id"`
	Civility  string `bson:"civility"`
	FirstName string `bson:"first_name"`
	LastName  string `bson:"last_name"`
	Status    string `bson:"status"`
}

type profileDoc struct {
	ID                     string               `bson:"_id"`
	Name                   string               `bson:"name"`
	ScholarshipFee         primitive.Decimal128 `bson:"scholarship_fee"`
	RegistrationFee        primitive.Decimal128 `bson:"registration_fee"`
	Deposit                primitive.Decimal128 `bson:"deposit"`
	TerminationOfPaymentID string               `bson:"termination_of_payment_id"`
}

type termPaymentDoc struct {
	PaymentDate time.Time            `bson:"payment_date"`
	Percentage  primitive.Decimal128 `bson:"percentage"`
}

type templateDoc struct {
	ID             string               `bson:"_id"`
	Description    string               `bson:"description"`
	Termination    int                  `bson:"termination"`
	TermPayments   []termPaymentDoc     `bson:"term_payments"`
	AdditionalCost primitive.Decimal128 `bson:"additional_cost"`
	Status         string               `bson:"status"`
}

func (d studentDoc) toStudent() billing.Student {
	return billing.Student{
		ID:                    d.ID,
		Civility:              d.Civility,
		FirstName:             d.FirstName,
		LastName:              d.LastName,
		RegistrationProfileID: d.RegistrationProfileID,
	}
}

func (d supportDoc) toSupport() billing.FinancialSupport {
	return billing.FinancialSupport{
		ID:        d.ID,
		StudentID: d.StudentID,
		Civility:  d.Civility,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Status:    billing.SupportStatus(d.Status),
	}
}

func (d profileDoc) toProfile() (billing.RegistrationProfile, error) {
	p := billing.RegistrationProfile{
		ID:                     d.ID,
		Name:                   d.Name,
		TerminationOfPaymentID: d.TerminationOfPaymentID,
	}
	var err error
	if p.ScholarshipFee, err = fromDecimal128("scholarship_fee", d.ScholarshipFee); err != nil {
		return p, err
	}
	if p.RegistrationFee, err = fromDecimal128("registration_fee", d.RegistrationFee); err != nil {
		return p, err
	}
	if p.Deposit, err = fromDecimal128("deposit", d.Deposit); err != nil {
		return p, err
	}
	return p, nil
}

func (d templateDoc) toTemplate() (billing.TerminationOfPayment, error) {
	t := billing.TerminationOfPayment{
		ID:          d.ID,
		Description: d.Description,
		Termination: d.Termination,
		Status:      d.Status,
	}
	var err error
	if t.AdditionalCost, err = fromDecimal128("additional_cost", d.AdditionalCost); err != nil {
		return t, err
	}
	for _, tp := range d.TermPayments {
		pct, err := fromDecimal128("percentage", tp.Percentage)
		if err != nil {
			return t, err
		}
		t.TermPayments = append(t.TermPayments, billing.TermPayment{
			PaymentDate: billing.Date{Time: tp.PaymentDate.UTC()},
			Percentage:  pct,
		})
	}
	return t, nil
}

// =============================================================================
// DIRECTORY (billing.Directory interface)
// =============================================================================

// findOne decodes the document with the given id; found is false when it
// does not exist.
func (s *Store) findOne(ctx context.Context, coll, id string, out any) (bool, error) {
	err := s.coll(coll).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) FindStudent(ctx context.Context, id string) (*billing.Student, error) {
	var doc studentDoc
	found, err := s.findOne(ctx, StudentsCollection, id, &doc)
	if err != nil || !found {
		return nil, err
	}
	st := doc.toStudent()
	if st.FinancialSupportIDs, err = s.activeSupportIDs(ctx, st.ID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) activeSupportIDs(ctx context.Context, studentID string) ([]string, error) {
	filter := bson.M{"student_id": studentID, "status": bson.M{"$ne": string(billing.SupportDeleted)}}
	supports, err := s.listSupports(ctx, filter)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, f := range supports {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func (s *Store) FindFinancialSupport(ctx context.Context, id string) (*billing.FinancialSupport, error) {
	var doc supportDoc
	found, err := s.findOne(ctx, FinancialSupportsCollection, id, &doc)
	if err != nil || !found {
		return nil, err
	}
	f := doc.toSupport()
	return &f, nil
}

func (s *Store) FindRegistrationProfile(ctx context.Context, id string) (*billing.RegistrationProfile, error) {
	var doc profileDoc
	found, err := s.findOne(ctx, RegistrationProfilesCollection, id, &doc)
	if err != nil || !found {
		return nil, err
	}
	p, err := doc.toProfile()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindTerminationOfPayment(ctx context.Context, id string) (*billing.TerminationOfPayment, error) {
	var doc templateDoc
	found, err := s.findOne(ctx, TerminationOfPaymentsCollection, id, &doc)
	if err != nil || !found {
		return nil, err
	}
	t, err := doc.toTemplate()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindPayerType classifies an id as a student or a financial support.
func (s *Store) FindPayerType(ctx context.Context, id string) (billing.PayerType, bool, error) {
	n, err := s.coll(StudentsCollection).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return billing.PayerStudent, true, nil
	}
	n, err = s.coll(FinancialSupportsCollection).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return billing.PayerFinancialSupport, true, nil
	}
	return "", false, nil
}

// =============================================================================
// CATALOG WRITES
// =============================================================================

// upsert replaces the fields of doc and keeps created_at from the first insert.
func (s *Store) upsert(ctx context.Context, coll, id string, fields bson.M) error {
	delete(fields, "_id")
	update := bson.M{
		"$set":         fields,
		"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
	}
	_, err := s.coll(coll).UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	return err
}

// fieldsOf converts a document struct to a bson.M using its bson tags.
func fieldsOf(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	err = bson.Unmarshal(raw, &m)
	return m, err
}

func (s *Store) save(ctx context.Context, coll, id string, doc any) error {
	fields, err := fieldsOf(doc)
	if err != nil {
		return err
	}
	return s.upsert(ctx, coll, id, fields)
}

func (s *Store) SaveStudent(ctx context.Context, st billing.Student) (billing.Student, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	doc := studentDoc{
		ID:                    st.ID,
		Civility:              st.Civility,
		FirstName:             st.FirstName,
		LastName:              st.LastName,
		RegistrationProfileID: st.RegistrationProfileID,
	}
	if err := s.save(ctx, StudentsCollection, st.ID, doc); err != nil {
		return billing.Student{}, err
	}
	var err error
	st.FinancialSupportIDs, err = s.activeSupportIDs(ctx, st.ID)
	return st, err
}

func (s *Store) SaveFinancialSupport(ctx context.Context, f billing.FinancialSupport) (billing.FinancialSupport, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = billing.SupportActive
	}
	doc := supportDoc{
		ID:        f.ID,
		StudentID: f.StudentID,
		Civility:  f.Civility,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Status:    string(f.Status),
	}
	if err := s.save(ctx, FinancialSupportsCollection, f.ID, doc); err != nil {
		return billing.FinancialSupport{}, err
	}
	return f, nil
}

func (s *Store) SaveRegistrationProfile(ctx context.Context, p billing.RegistrationProfile) (billing.RegistrationProfile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var enc decimalEncoder
	doc := profileDoc{
		ID:                     p.ID,
		Name:                   p.Name,
		ScholarshipFee:         enc.encode("scholarship_fee", p.ScholarshipFee),
		RegistrationFee:        enc.encode("registration_fee", p.RegistrationFee),
		Deposit:                enc.encode("deposit", p.Deposit),
		TerminationOfPaymentID: p.TerminationOfPaymentID,
	}
	if enc.err != nil {
		return billing.RegistrationProfile{}, enc.err
	}
	if err := s.save(ctx, RegistrationProfilesCollection, p.ID, doc); err != nil {
		return billing.RegistrationProfile{}, err
	}
	return p, nil
}

func (s *Store) SaveTerminationOfPayment(ctx context.Context, t billing.TerminationOfPayment) (billing.TerminationOfPayment, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var enc decimalEncoder
	doc := templateDoc{
		ID:             t.ID,
		Description:    t.Description,
		Termination:    t.Termination,
		TermPayments:   make([]termPaymentDoc, 0, len(t.TermPayments)),
		AdditionalCost: enc.encode("additional_cost", t.AdditionalCost),
		Status:         t.Status,
	}
	for _, tp := range t.TermPayments {
		doc.TermPayments = append(doc.TermPayments, termPaymentDoc{
			PaymentDate: tp.PaymentDate.Time,
			Percentage:  enc.encode("percentage", tp.Percentage),
		})
	}
	if enc.err != nil {
		return billing.TerminationOfPayment{}, enc.err
	}
	if err := s.save(ctx, TerminationOfPaymentsCollection, t.ID, doc); err != nil {
		return billing.TerminationOfPayment{}, err
	}
	t.TermPayments = append([]billing.TermPayment(nil), t.TermPayments...)
	return t, nil
}

// =============================================================================
// LISTINGS
// =============================================================================

var byCreation = options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

// decodeAll drains cur into a slice of D.
func decodeAll[D any](ctx context.Context, cur *mongo.Cursor) ([]D, error) {
	defer cur.Close(ctx)
	out := make([]D, 0)
	for cur.Next(ctx) {
		var d D
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

func (s *Store) ListStudents(ctx context.Context) ([]billing.Student, error) {
	cur, err := s.coll(StudentsCollection).Find(ctx, bson.M{}, byCreation)
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[studentDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	result := make([]billing.Student, 0, len(docs))
	for _, d := range docs {
		st := d.toStudent()
		if st.FinancialSupportIDs, err = s.activeSupportIDs(ctx, st.ID); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}

func (s *Store) listSupports(ctx context.Context, filter bson.M) ([]billing.FinancialSupport, error) {
	cur, err := s.coll(FinancialSupportsCollection).Find(ctx, filter, byCreation)
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[supportDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	result := make([]billing.FinancialSupport, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.toSupport())
	}
	return result, nil
}

// ListFinancialSupports lists the supports of studentID, or all of them when
// studentID is empty.
func (s *Store) ListFinancialSupports(ctx context.Context, studentID string) ([]billing.FinancialSupport, error) {
	filter := bson.M{}
	if studentID != "" {
		filter["student_id"] = studentID
	}
	return s.listSupports(ctx, filter)
}

func (s *Store) ListRegistrationProfiles(ctx context.Context) ([]billing.RegistrationProfile, error) {
	cur, err := s.coll(RegistrationProfilesCollection).Find(ctx, bson.M{}, byCreation)
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[profileDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	result := make([]billing.RegistrationProfile, 0, len(docs))
	for _, d := range docs {
		p, err := d.toProfile()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) ListTerminationOfPayments(ctx context.Context) ([]billing.TerminationOfPayment, error) {
	cur, err := s.coll(TerminationOfPaymentsCollection).Find(ctx, bson.M{}, byCreation)
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[templateDoc](ctx, cur)
	if err != nil {
		return nil, err
	}
	result := make([]billing.TerminationOfPayment, 0, len(docs))
	for _, d := range docs {
		t, err := d.toTemplate()
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}
