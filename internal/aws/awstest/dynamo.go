// Package awstest provides in-memory stand-ins for the AWS clients used by the stores.
// The DynamoDB fake understands the small expression dialect the stores emit:
// SET (with if_not_exists) / ADD / REMOVE updates, attribute_(not_)exists, =, <>, >= and <=
// conditions joined by AND.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Dynamo is an in-memory DynamoDB keyed by each table's primary key attributes.
type Dynamo struct {
	mu     sync.Mutex
	schema map[string][]string
	tables map[string]map[string]item

	// Fail, when set, is consulted before every operation; a non-nil error is returned as-is.
	Fail func(op, table string) error
	// Calls counts operations by name.
	Calls map[string]int
}

// NewDynamo creates a fake with the given table -> key attribute names (partition key first).
func NewDynamo(schema map[string][]string) *Dynamo {
	d := &Dynamo{
		schema: schema,
		tables: map[string]map[string]item{},
		Calls:  map[string]int{},
	}
	for t := range schema {
		d.tables[t] = map[string]item{}
	}
	return d
}

// Seed marshals v and stores it in table without evaluating conditions.
func (d *Dynamo) Seed(t testing.TB, table string, v any) {
	t.Helper()
	m, err := attributevalue.MarshalMap(v)
	if err != nil {
		t.Fatalf("seed %s: %v", table, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k, err := d.keyOf(table, m)
	if err != nil {
		t.Fatalf("seed %s: %v", table, err)
	}
	d.tables[table][k] = m
}

// Items returns a copy of every item in table, ordered by primary key.
func (d *Dynamo) Items(table string) []map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sorted(d.tables[table])
}

// Len returns the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

func (d *Dynamo) sorted(tbl map[string]item) []map[string]types.AttributeValue {
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(tbl[k]))
	}
	return out
}

func (d *Dynamo) before(op, table string) error {
	d.Calls[op]++
	if _, ok := d.schema[table]; !ok {
		return &types.ResourceNotFoundException{Message: strPtr("table not found: " + table)}
	}
	if d.Fail != nil {
		return d.Fail(op, table)
	}
	return nil
}

func (d *Dynamo) keyOf(table string, m item) (string, error) {
	attrs, ok := d.schema[table]
	if !ok {
		return "", fmt.Errorf("unknown table %s", table)
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, ok := m[a]
		if !ok {
			return "", fmt.Errorf("missing key attribute %s for table %s", a, table)
		}
		parts = append(parts, scalar(v))
	}
	return strings.Join(parts, "|"), nil
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := deref(in.TableName)
	if err := d.before("PutItem", table); err != nil {
		return nil, err
	}
	k, err := d.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := ex.cond(deref(in.ConditionExpression), d.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	d.tables[table][k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := deref(in.TableName)
	if err := d.before("GetItem", table); err != nil {
		return nil, err
	}
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := d.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := deref(in.TableName)
	if err := d.before("DeleteItem", table); err != nil {
		return nil, err
	}
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := ex.cond(deref(in.ConditionExpression), d.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	old := d.tables[table][k]
	delete(d.tables[table], k)
	return &dyn.DeleteItemOutput{Attributes: old}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := deref(in.TableName)
	if err := d.before("UpdateItem", table); err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	updated, err := d.update(table, in.Key, ex, deref(in.ConditionExpression), deref(in.UpdateExpression))
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: clone(updated)}, nil
}

func (d *Dynamo) update(table string, key item, ex expr, condition, update string) (item, error) {
	k, err := d.keyOf(table, key)
	if err != nil {
		return nil, err
	}
	current := d.tables[table][k]
	ok, err := ex.cond(condition, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	if err := ex.apply(update, next); err != nil {
		return nil, err
	}
	d.tables[table][k] = next
	return next, nil
}

func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := deref(in.TableName)
	if err := d.before("Query", table); err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	var out []map[string]types.AttributeValue
	for _, it := range d.sorted(d.tables[table]) {
		ok, err := ex.cond(deref(in.KeyConditionExpression), it)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = ex.cond(deref(in.FilterExpression), it)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := deref(in.TableName)
	if err := d.before("Scan", table); err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	var out []map[string]types.AttributeValue
	for _, it := range d.sorted(d.tables[table]) {
		ok, err := ex.cond(deref(in.FilterExpression), it)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

// TransactWriteItems checks every condition first and applies nothing if any fails.
func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls["TransactWriteItems"]++
	if d.Fail != nil {
		if err := d.Fail("TransactWriteItems", ""); err != nil {
			return nil, err
		}
	}

	snapshot := map[string]map[string]item{}
	for t, rows := range d.tables {
		snapshot[t] = map[string]item{}
		for k, v := range rows {
			snapshot[t][k] = v
		}
	}
	restore := func() { d.tables = snapshot }

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		err := d.transactOne(ti)
		var ccf *types.ConditionalCheckFailedException
		switch {
		case err == nil:
			reasons[i] = types.CancellationReason{Code: strPtr("None")}
		case errors.As(err, &ccf):
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			failed = true
		default:
			restore()
			return nil, err
		}
	}
	if failed {
		restore()
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) transactOne(ti types.TransactWriteItem) error {
	switch {
	case ti.Put != nil:
		p := ti.Put
		table := deref(p.TableName)
		if err := d.before("TransactWriteItems", table); err != nil {
			return err
		}
		k, err := d.keyOf(table, p.Item)
		if err != nil {
			return err
		}
		ex := expr{names: p.ExpressionAttributeNames, values: p.ExpressionAttributeValues}
		ok, err := ex.cond(deref(p.ConditionExpression), d.tables[table][k])
		if err != nil {
			return err
		}
		if !ok {
			return &types.ConditionalCheckFailedException{}
		}
		d.tables[table][k] = clone(p.Item)
	case ti.Update != nil:
		u := ti.Update
		table := deref(u.TableName)
		if err := d.before("TransactWriteItems", table); err != nil {
			return err
		}
		ex := expr{names: u.ExpressionAttributeNames, values: u.ExpressionAttributeValues}
		_, err := d.update(table, u.Key, ex, deref(u.ConditionExpression), deref(u.UpdateExpression))
		return err
	case ti.Delete != nil:
		del := ti.Delete
		table := deref(del.TableName)
		if err := d.before("TransactWriteItems", table); err != nil {
			return err
		}
		k, err := d.keyOf(table, del.Key)
		if err != nil {
			return err
		}
		ex := expr{names: del.ExpressionAttributeNames, values: del.ExpressionAttributeValues}
		ok, err := ex.cond(deref(del.ConditionExpression), d.tables[table][k])
		if err != nil {
			return err
		}
		if !ok {
			return &types.ConditionalCheckFailedException{}
		}
		delete(d.tables[table], k)
	case ti.ConditionCheck != nil:
		cc := ti.ConditionCheck
		table := deref(cc.TableName)
		if err := d.before("TransactWriteItems", table); err != nil {
			return err
		}
		k, err := d.keyOf(table, cc.Key)
		if err != nil {
			return err
		}
		ex := expr{names: cc.ExpressionAttributeNames, values: cc.ExpressionAttributeValues}
		ok, err := ex.cond(deref(cc.ConditionExpression), d.tables[table][k])
		if err != nil {
			return err
		}
		if !ok {
			return &types.ConditionalCheckFailedException{}
		}
	default:
		return errors.New("empty transact item")
	}
	return nil
}

// --- expressions ---

type expr struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

var (
	fnCond      = regexp.MustCompile(`^(attribute_exists|attribute_not_exists)\(\s*([#\w.]+)\s*\)$`)
	cmpCond     = regexp.MustCompile(`^([#\w.]+)\s*(=|<>|>=|<=)\s*(:\w+)$`)
	updateVerb  = regexp.MustCompile(`\b(SET|ADD|REMOVE)\b`)
	ifNotExists = regexp.MustCompile(`^if_not_exists\(\s*([#\w.]+)\s*,\s*(:\w+)\s*\)$`)
)

func (e expr) name(tok string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := e.names[tok]; ok {
			return n
		}
	}
	return tok
}

func (e expr) value(tok string) (types.AttributeValue, error) {
	v, ok := e.values[tok]
	if !ok {
		return nil, fmt.Errorf("missing expression value %s", tok)
	}
	return v, nil
}

func (e expr) cond(condition string, it item) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	for _, clause := range strings.Split(condition, " AND ") {
		clause = strings.TrimSpace(clause)
		if m := fnCond.FindStringSubmatch(clause); m != nil {
			_, exists := it[e.name(m[2])]
			if (m[1] == "attribute_exists") != exists {
				return false, nil
			}
			continue
		}
		m := cmpCond.FindStringSubmatch(clause)
		if m == nil {
			return false, fmt.Errorf("unsupported condition %q", clause)
		}
		want, err := e.value(m[3])
		if err != nil {
			return false, err
		}
		got, exists := it[e.name(m[1])]
		if !exists {
			if m[2] == "<>" {
				continue
			}
			return false, nil
		}
		c := compare(got, want)
		var ok bool
		switch m[2] {
		case "=":
			ok = c == 0
		case "<>":
			ok = c != 0
		case ">=":
			ok = c >= 0
		case "<=":
			ok = c <= 0
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e expr) apply(update string, it item) error {
	locs := updateVerb.FindAllStringIndex(update, -1)
	for i, loc := range locs {
		verb := update[loc[0]:loc[1]]
		end := len(update)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		for _, clause := range splitClauses(update[loc[1]:end]) {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			switch verb {
			case "SET":
				parts := strings.SplitN(clause, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("unsupported SET clause %q", clause)
				}
				target := e.name(strings.TrimSpace(parts[0]))
				rhs := strings.TrimSpace(parts[1])
				if m := ifNotExists.FindStringSubmatch(rhs); m != nil {
					if _, ok := it[e.name(m[1])]; ok {
						continue
					}
					rhs = m[2]
				}
				v, err := e.value(rhs)
				if err != nil {
					return err
				}
				it[target] = v
			case "ADD":
				fields := strings.Fields(clause)
				if len(fields) != 2 {
					return fmt.Errorf("unsupported ADD clause %q", clause)
				}
				v, err := e.value(fields[1])
				if err != nil {
					return err
				}
				n := e.name(fields[0])
				sum := number(v)
				if cur, ok := it[n]; ok {
					sum += number(cur)
				}
				it[n] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(sum, 'f', -1, 64)}
			case "REMOVE":
				delete(it, e.name(clause))
			}
		}
	}
	return nil
}

// splitClauses splits on commas outside parentheses.
func splitClauses(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func compare(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		x, y := number(an), number(bn)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(scalar(a), scalar(b))
}

func number(v types.AttributeValue) float64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(n.Value, 64)
	return f
}

func scalar(v types.AttributeValue) string {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value
	case *types.AttributeValueMemberN:
		return t.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(t.Value)
	}
	return fmt.Sprintf("%v", v)
}

func clone(m item) item {
	if m == nil {
		return nil
	}
	out := make(item, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
