package model

import (
	"encoding/json"
	"testing"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

func TestNegotiationTransitions(t *testing.T) {
	n := &ContractNegotiation{ID: "n-1", Type: Consumer, State: NegotiationInitial}

	steps := []NegotiationState{NegotiationRequesting, NegotiationRequesting, NegotiationRequested, NegotiationAgreed, NegotiationVerifying, NegotiationVerified, NegotiationFinalized}
	for i, s := range steps {
		if err := n.TransitionTo(s, int64(i)); err != nil {
			t.Fatalf("step %d to %s: %v", i, s, err)
		}
	}
	if n.State != NegotiationFinalized || n.StateTimestamp != int64(len(steps)-1) {
		t.Fatalf("unexpected final state %s at %d", n.State, n.StateTimestamp)
	}

	err := n.TransitionTo(NegotiationTerminated, 99)
	if !errors.IsStateTransition(err) {
		t.Fatalf("finalized negotiation must not terminate, got %v", err)
	}
}

func TestNegotiationRetryCount(t *testing.T) {
	n := &ContractNegotiation{ID: "n-2", State: NegotiationInitial}
	_ = n.TransitionTo(NegotiationRequesting, 1)
	_ = n.TransitionTo(NegotiationRequesting, 2)
	_ = n.TransitionTo(NegotiationRequesting, 3)
	if n.StateCount != 3 {
		t.Errorf("StateCount = %d, want 3", n.StateCount)
	}
	_ = n.TransitionTo(NegotiationRequested, 4)
	if n.StateCount != 1 {
		t.Errorf("StateCount after change = %d, want 1", n.StateCount)
	}
}

func TestNegotiationIllegalJump(t *testing.T) {
	n := &ContractNegotiation{ID: "n-3", State: NegotiationInitial}
	if err := n.TransitionTo(NegotiationFinalized, 1); err == nil {
		t.Fatal("INITIAL -> FINALIZED should be rejected")
	}
	if err := n.Terminate("declined", false, 2); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if n.State != NegotiationTerminating || n.ErrorDetail != "declined" {
		t.Errorf("got %s / %q", n.State, n.ErrorDetail)
	}
}

func TestTransferTransitions(t *testing.T) {
	tp := &TransferProcess{ID: "t-1", State: TransferStarted}
	if err := tp.TransitionTo(TransferCompleted, 1); err != nil {
		t.Fatalf("STARTED -> COMPLETED: %v", err)
	}
	if err := tp.TransitionTo(TransferStarted, 2); err == nil {
		t.Fatal("COMPLETED -> STARTED should be rejected")
	}
	if err := tp.TransitionTo(TransferTerminating, 3); err == nil {
		t.Fatal("COMPLETED -> TERMINATING should be rejected")
	}

	tp2 := &TransferProcess{ID: "t-2", State: TransferSuspended}
	if err := tp2.Terminate("timeout by watchdog", false, 4); err != nil {
		t.Fatalf("terminate suspended: %v", err)
	}
	if err := tp2.TransitionTo(TransferTerminated, 5); err != nil {
		t.Fatalf("TERMINATING -> TERMINATED: %v", err)
	}
}

func TestProviderTransferAcceptsRequestFromInitial(t *testing.T) {
	tp := &TransferProcess{ID: "t-3", Type: Provider, State: TransferInitial}
	if err := tp.TransitionTo(TransferRequested, 1); err != nil {
		t.Fatalf("INITIAL -> REQUESTED: %v", err)
	}
	if tp.State != TransferRequested || tp.StateCount != 1 {
		t.Fatalf("got %s/%d", tp.State, tp.StateCount)
	}
	if err := tp.TransitionTo(TransferCompleting, 2); err == nil {
		t.Fatal("REQUESTED -> COMPLETING should be rejected")
	}
}

func TestStateJSON(t *testing.T) {
	b, _ := json.Marshal(struct {
		S TransferState `json:"state"`
	}{TransferStarted})
	if string(b) != `{"state":"STARTED"}` {
		t.Fatalf("marshal = %s", b)
	}
	var out struct {
		S NegotiationState `json:"state"`
	}
	if err := json.Unmarshal([]byte(`{"state":"dspace:FINALIZED"}`), &out); err != nil || out.S != NegotiationFinalized {
		t.Fatalf("unmarshal prefixed name: %v %v", out.S, err)
	}
	if err := json.Unmarshal([]byte(`{"state":1200}`), &out); err != nil || out.S != NegotiationFinalized {
		t.Fatalf("unmarshal code: %v %v", out.S, err)
	}
	if err := json.Unmarshal([]byte(`{"state":"BOGUS"}`), &out); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestParseTransferType(t *testing.T) {
	tests := []struct {
		in       string
		wantDest string
		wantFlow FlowType
		wantErr  bool
	}{
		{"HttpData-PULL", "HttpData", FlowPull, false},
		{"HttpData-PUSH", "HttpData", FlowPush, false},
		{"Kafka-PULL", "Kafka", FlowPull, false},
		{"AmazonS3-push", "AmazonS3", FlowPush, false},
		{"HttpData", "", "", true},
		{"HttpData-SIDEWAYS", "", "", true},
		{"-PULL", "", "", true},
	}
	for _, tt := range tests {
		dest, flow, err := ParseTransferType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v", tt.in, err)
			continue
		}
		if dest != tt.wantDest || flow != tt.wantFlow {
			t.Errorf("%s: got %s/%s", tt.in, dest, flow)
		}
	}
}

func TestContractOfferID(t *testing.T) {
	id := NewContractOfferID("def-1", "assetId")
	parsed, err := ParseContractOfferID(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.DefinitionID != "def-1" || parsed.AssetID != "assetId" || parsed.Nonce != id.Nonce {
		t.Errorf("parsed = %+v", parsed)
	}
	if _, err := ParseContractOfferID("not-an-offer"); err == nil {
		t.Error("expected error for malformed id")
	}
	if _, err := ParseContractOfferID("a:b:!!"); err == nil {
		t.Error("expected error for bad base64")
	}
}

func TestPolicyUnmarshalVariants(t *testing.T) {
	raw := `{
		"@context": "http://www.w3.org/ns/odrl.jsonld",
		"@type": "odrl:Set",
		"permission": {
			"action": {"@id": "odrl:use"},
			"constraint": {
				"leftOperand": "https://w3id.org/edc/v0.0.1/ns/region",
				"operator": {"@id": "odrl:eq"},
				"rightOperand": "eu"
			}
		},
		"prohibition": [],
		"obligation": []
	}`
	var p Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Type != PolicyTypeSet || len(p.Permissions) != 1 {
		t.Fatalf("unexpected policy %+v", p)
	}
	perm := p.Permissions[0]
	if perm.Action != "use" || len(perm.Constraints) != 1 {
		t.Fatalf("unexpected permission %+v", perm)
	}
	c := perm.Constraints[0]
	if c.LeftOperand != "region" || c.Operator != OpEq || c.RightString() != "eu" {
		t.Errorf("unexpected constraint %+v", c)
	}
}

func TestPolicyLogicalConstraint(t *testing.T) {
	raw := `{"permission":[{"action":"use","constraint":[{"or":[
		{"leftOperand":"region","operator":"eq","rightOperand":"eu"},
		{"leftOperand":"region","operator":"eq","rightOperand":"us"}]}]}]}`
	var p Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c := p.Permissions[0].Constraints[0]
	if !c.IsLogical() || len(c.Or) != 2 {
		t.Fatalf("expected logical or with two children, got %+v", c)
	}
}

func TestPolicySameRules(t *testing.T) {
	a := Policy{ID: "offer-1", Target: "asset", Permissions: []Rule{{Action: "use", Constraints: []Constraint{{LeftOperand: "region", Operator: OpEq, RightOperand: "eu"}}}}}
	b := a.Copy()
	b.ID = "another-id"
	b.Assigner = "provider"
	if !a.SameRules(b) {
		t.Error("policies differing only in metadata should match")
	}
	b.Permissions[0].Constraints[0].RightOperand = "us"
	if a.SameRules(b) {
		t.Error("changed constraint must not match")
	}
}

func TestCriterionMatches(t *testing.T) {
	asset := Asset{
		ID:         "test-document",
		Properties: map[string]any{"name": "test document", "contenttype": "text/plain", "https://w3id.org/edc/v0.0.1/ns/region": "eu"},
	}
	doc := asset.SelectorDocument()
	tests := []struct {
		c    Criterion
		want bool
	}{
		{NewCriterion(PropertyID, "=", "test-document"), true},
		{NewCriterion("id", "=", "other"), false},
		{NewCriterion("id", "!=", "other"), true},
		{NewCriterion("id", "in", []any{"a", "test-document"}), true},
		{NewCriterion("name", "like", "test%"), true},
		{NewCriterion("name", "like", "%doc%"), true},
		{NewCriterion("name", "like", "%pdf"), false},
		{NewCriterion("region", "=", "eu"), true},
		{NewCriterion("properties.contenttype", "=", "text/plain"), true},
	}
	for _, tt := range tests {
		if got := tt.c.Matches(doc); got != tt.want {
			t.Errorf("%+v: got %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestCriterionMatchesArrays(t *testing.T) {
	cat := Catalog{ID: "c1", Type: TypeCatalog, Datasets: []Dataset{{ID: "asset-1", Type: TypeDataset}, {ID: "asset-2", Type: TypeDataset}}}
	doc, err := ToDocument(cat)
	if err != nil {
		t.Fatal(err)
	}
	if !NewCriterion("dcat:dataset.@id", "=", "asset-2").Matches(doc) {
		t.Error("expected nested array match")
	}
	if NewCriterion("dcat:dataset.@id", "=", "asset-3").Matches(doc) {
		t.Error("unexpected match")
	}
}

func TestApplyQuery(t *testing.T) {
	assets := []Asset{
		{ID: "c", CreatedAt: 3, Properties: map[string]any{"kind": "doc"}},
		{ID: "a", CreatedAt: 1, Properties: map[string]any{"kind": "doc"}},
		{ID: "b", CreatedAt: 2, Properties: map[string]any{"kind": "img"}},
	}
	got, err := ApplyQuery(assets, QuerySpec{SortField: "createdAt", SortOrder: SortDesc})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ID != "c" || got[2].ID != "a" {
		t.Errorf("sort desc wrong: %v", ids(got))
	}

	got, _ = ApplyQuery(assets, QuerySpec{FilterExpression: []Criterion{NewCriterion("properties.kind", "=", "doc")}, SortField: "@id"})
	if len(got) != 2 || got[0].ID != "a" {
		t.Errorf("filter wrong: %v", ids(got))
	}

	got, _ = ApplyQuery(assets, QuerySpec{Offset: 1, Limit: 1, SortField: "@id"})
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("paging wrong: %v", ids(got))
	}

	if _, err := ApplyQuery(assets, QuerySpec{Offset: -1}); err == nil {
		t.Error("negative offset should fail")
	}
}

func ids(assets []Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.ID
	}
	return out
}

func TestDataPlaneCanHandle(t *testing.T) {
	dp := DataPlaneInstance{
		ID: "dp", URL: "http://localhost:19192/control/v1/dataflows",
		AllowedSourceTypes:   []string{TypeHTTPData, TypeFile},
		AllowedTransferTypes: []string{"HttpData-PULL", "HttpData-PUSH"},
	}
	if !dp.CanHandle(NewDataAddress(TypeHTTPData), "HttpData-PULL") {
		t.Error("should handle HttpData-PULL")
	}
	if dp.CanHandle(NewDataAddress(TypeAmazonS3), "HttpData-PUSH") {
		t.Error("should not handle S3 source")
	}
	legacy := DataPlaneInstance{ID: "old", URL: "x", AllowedSourceTypes: []string{TypeFile}, AllowedDestTypes: []string{TypeFile}}
	if !legacy.CanHandle(NewDataAddress(TypeFile), "File-PUSH") {
		t.Error("dest-type based instance should handle File-PUSH")
	}
}

func TestContractDefinitionSelectorObject(t *testing.T) {
	raw := `{"@id":"1","accessPolicyId":"p","contractPolicyId":"p",
		"assetsSelector":{"@type":"Criterion","operandLeft":"https://w3id.org/edc/v0.0.1/ns/id","operator":"=","operandRight":"assetId"}}`
	var d ContractDefinition
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatal(err)
	}
	if len(d.AssetsSelector) != 1 || !d.Selects(Asset{ID: "assetId"}) || d.Selects(Asset{ID: "other"}) {
		t.Errorf("selector not applied: %+v", d.AssetsSelector)
	}
}

func TestCallbackMatches(t *testing.T) {
	cb := CallbackAddress{URI: "http://localhost:4000/hooks", Events: []string{"transfer.process"}}
	if !cb.Matches("transfer.process.started") {
		t.Error("prefix should match")
	}
	if cb.Matches("contract.negotiation.finalized") {
		t.Error("other family should not match")
	}
}
