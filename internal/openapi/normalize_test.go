package openapi

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

func loadTodoDoc(t *testing.T) *Document {
	t.Helper()
	doc, err := Load("testdata/todos.yaml")
	if err != nil {
		t.Fatalf("failed to load testdata: %v", err)
	}
	return doc
}

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return doc
}

func findTool(defs []tool.Definition, name string) (tool.Definition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return tool.Definition{}, false
}

func TestNormalize_TodoDocument_SourceOrder(t *testing.T) {
	defs, issues := Normalize(loadTodoDoc(t))
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}

	want := []string{"listTodos", "createTodo", "updateTodo", "deleteTodo", "deleteTodos", "completeTodos"}
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Fatalf("tool %d: expected %s, got %s", i, name, defs[i].Name)
		}
	}
}

func TestNormalize_TodoDocument_CreateTodo(t *testing.T) {
	defs, _ := Normalize(loadTodoDoc(t))
	create, ok := findTool(defs, "createTodo")
	if !ok {
		t.Fatal("createTodo not found")
	}
	if create.Description != "Create a new todo" {
		t.Fatalf("unexpected description: %q", create.Description)
	}
	if create.Parameters.Type != "object" {
		t.Fatalf("expected object schema, got %q", create.Parameters.Type)
	}
	if got := create.Parameters.Properties["text"].Type; got != tool.TypeString {
		t.Fatalf("expected text to be string, got %q", got)
	}
	if !reflect.DeepEqual(create.Parameters.Required, []string{"text"}) {
		t.Fatalf("expected required [text], got %v", create.Parameters.Required)
	}
}

func TestNormalize_TodoDocument_PathLevelParameters(t *testing.T) {
	defs, _ := Normalize(loadTodoDoc(t))
	update, _ := findTool(defs, "updateTodo")

	id, ok := update.Parameters.Properties["id"]
	if !ok {
		t.Fatal("expected path-level id parameter on updateTodo")
	}
	if id.Type != tool.TypeString || id.Description != "The todo ID" {
		t.Fatalf("unexpected id property: %+v", id)
	}
	if _, ok := update.Parameters.Properties["completed"]; !ok {
		t.Fatal("expected completed body property")
	}
	if !reflect.DeepEqual(update.Parameters.Required, []string{"id"}) {
		t.Fatalf("expected required [id], got %v", update.Parameters.Required)
	}

	del, _ := findTool(defs, "deleteTodo")
	if _, ok := del.Parameters.Properties["id"]; !ok {
		t.Fatal("expected path-level id parameter on deleteTodo")
	}
}

func TestNormalize_TodoDocument_OneOfPropertyKeepsNoType(t *testing.T) {
	defs, _ := Normalize(loadTodoDoc(t))
	complete, _ := findTool(defs, "completeTodos")

	ids := complete.Parameters.Properties["ids"]
	if ids.Type != "" {
		t.Fatalf("expected no declared type for oneOf property, got %q", ids.Type)
	}
	if len(ids.OneOf) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(ids.OneOf))
	}
	if ids.OneOf[0].Type != tool.TypeArray || ids.OneOf[0].Items == nil || ids.OneOf[0].Items.Type != tool.TypeString {
		t.Fatalf("unexpected first alternative: %+v", ids.OneOf[0])
	}
	if ids.OneOf[1].Type != tool.TypeString || !reflect.DeepEqual(ids.OneOf[1].Enum, []string{"all"}) {
		t.Fatalf("unexpected second alternative: %+v", ids.OneOf[1])
	}
	if !reflect.DeepEqual(complete.Parameters.Required, []string{"ids", "completed"}) {
		t.Fatalf("expected required [ids completed], got %v", complete.Parameters.Required)
	}
}

func TestNormalize_ExcludedOperation(t *testing.T) {
	defs, _ := Normalize(loadTodoDoc(t))
	if _, ok := findTool(defs, "askAi"); ok {
		t.Fatal("expected askAi to be excluded")
	}
}

func TestNormalize_SynthesizedNameAndDescription(t *testing.T) {
	doc := mustParse(t, `
openapi: 3.0.0
paths:
  /users/{userId}/posts:
    get:
      description: Posts of a user
    delete: {}
    post:
      summary: Create post
      description: Longer text
`)
	defs, _ := Normalize(doc)
	if len(defs) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(defs))
	}
	if defs[0].Name != "getusersuserIdposts" {
		t.Fatalf("unexpected synthesized name: %s", defs[0].Name)
	}
	if defs[0].Description != "Posts of a user" {
		t.Fatalf("expected description fallback, got %q", defs[0].Description)
	}
	if defs[1].Description != "DELETE /users/{userId}/posts" {
		t.Fatalf("expected METHOD path fallback, got %q", defs[1].Description)
	}
	if defs[2].Description != "Create post" {
		t.Fatalf("expected summary first, got %q", defs[2].Description)
	}
}

func TestNormalize_NameCollisionsAreDeterministic(t *testing.T) {
	src := `
openapi: 3.0.0
paths:
  /a/b:
    get:
      operationId: fetch
  /ab:
    get: {}
  /a/{b}:
    get: {}
  /c:
    get:
      operationId: fetch
`
	first, _ := Normalize(mustParse(t, src))
	second, _ := Normalize(mustParse(t, src))

	want := []string{"fetch", "getab", "getab_2", "fetch_2"}
	for i, name := range want {
		if first[i].Name != name {
			t.Fatalf("tool %d: expected %s, got %s", i, name, first[i].Name)
		}
		if second[i].Name != first[i].Name {
			t.Fatalf("names differ between runs: %s vs %s", first[i].Name, second[i].Name)
		}
	}
}

func TestNormalize_BodyOverridesParameter_RequiredDeduplicated(t *testing.T) {
	doc := mustParse(t, `
openapi: 3.0.0
paths:
  /items/{id}:
    put:
      operationId: putItem
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [id, name]
              properties:
                id:
                  type: integer
                  description: Numeric id
                name:
                  type: string
`)
	defs, _ := Normalize(doc)
	put := defs[0]
	if put.Parameters.Properties["id"].Type != tool.TypeInteger {
		t.Fatalf("expected body property to win, got %+v", put.Parameters.Properties["id"])
	}
	if !reflect.DeepEqual(put.Parameters.Required, []string{"id", "name"}) {
		t.Fatalf("expected deduplicated required, got %v", put.Parameters.Required)
	}
}

func TestNormalize_MalformedPropertyDoesNotAbort(t *testing.T) {
	doc := mustParse(t, `
openapi: 3.0.0
paths:
  /notes:
    post:
      operationId: createNote
      parameters:
        - 42
        - name: tag
          in: query
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [body, ghost]
              properties:
                broken: 17
                body:
                  type: string
  /other:
    get:
      operationId: other
`)
	defs, issues := Normalize(doc)
	if len(defs) != 2 {
		t.Fatalf("expected both operations to survive, got %d", len(defs))
	}
	note := defs[0]
	if note.Parameters.Properties["body"].Type != tool.TypeString {
		t.Fatal("expected well-formed property to be kept")
	}
	if p, ok := note.Parameters.Properties["broken"]; !ok || p.Type != "" {
		t.Fatalf("expected malformed property recorded without type, got %+v (present=%v)", p, ok)
	}
	if p := note.Parameters.Properties["tag"]; p.Type != "" || p.Description != "query parameter tag" {
		t.Fatalf("expected schema-less query parameter recorded without type, got %+v", p)
	}
	if !reflect.DeepEqual(note.Parameters.Required, []string{"body"}) {
		t.Fatalf("expected undeclared required name dropped, got %v", note.Parameters.Required)
	}
	if len(issues) == 0 {
		t.Fatal("expected issues to be reported")
	}
}

func TestNormalize_HeaderAndCookieParametersIgnored(t *testing.T) {
	doc := mustParse(t, `
openapi: 3.0.0
paths:
  /x:
    get:
      operationId: getX
      parameters:
        - {name: X-Trace, in: header, schema: {type: string}}
        - {name: session, in: cookie, schema: {type: string}}
        - {name: limit, in: query, required: true, schema: {type: integer}}
`)
	defs, _ := Normalize(doc)
	props := defs[0].Parameters.Properties
	if len(props) != 1 || props["limit"].Type != tool.TypeInteger {
		t.Fatalf("expected only the query parameter, got %+v", props)
	}
}

func TestNormalize_NonOperationPathKeysSkipped(t *testing.T) {
	doc := mustParse(t, `
openapi: 3.0.0
paths:
  /x:
    $ref: "#/components/pathItems/X"
    summary: X resource
    description: Everything about X
    servers:
      - url: https://x.example.com
    x-internal: true
    get:
      operationId: getX
    post:
      operationId: createX
`)
	defs, issues := Normalize(doc)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
	if len(defs) != 2 || defs[0].Name != "getX" || defs[1].Name != "createX" {
		t.Fatalf("expected only the verb operations, got %+v", defs)
	}
}

func TestNormalize_ComponentParameterReference(t *testing.T) {
	doc := mustParse(t, `
openapi: 3.0.0
paths:
  /x:
    get:
      operationId: getX
      parameters:
        - $ref: "#/components/parameters/Limit"
        - $ref: "#/components/parameters/Missing"
components:
  parameters:
    Limit:
      name: limit
      in: query
      schema:
        type: integer
`)
	defs, issues := Normalize(doc)
	if defs[0].Parameters.Properties["limit"].Type != tool.TypeInteger {
		t.Fatal("expected referenced parameter to be resolved")
	}
	if len(issues) != 1 || !strings.Contains(issues[0].Detail, "Missing") {
		t.Fatalf("expected one unresolved reference issue, got %v", issues)
	}
}

func TestParse_JSONWithTabs(t *testing.T) {
	src := "{\n\t\"openapi\": \"3.0.0\",\n\t\"paths\": {\n\t\t\"/ping\": {\n\t\t\t\"get\": {\"operationId\": \"ping\"}\n\t\t}\n\t}\n}"
	doc := mustParse(t, src)
	defs, _ := Normalize(doc)
	if len(defs) != 1 || defs[0].Name != "ping" {
		t.Fatalf("unexpected tools: %+v", defs)
	}
}

func TestParse_NotOpenAPI(t *testing.T) {
	if _, err := Parse([]byte("hello: world\n")); err != ErrNotOpenAPI {
		t.Fatalf("expected ErrNotOpenAPI, got %v", err)
	}
}

// randomDoc generates OpenAPI documents with overlapping names, duplicate
// operation ids, parameter/body clashes and undeclared required entries.
type randomDoc struct {
	doc *Document
}

var (
	propNames = []string{"id", "text", "ids", "completed", "limit", "q"}
	propTypes = []string{"string", "number", "integer", "boolean", "array", "object", "", "bogus"}
	segments  = []string{"todos", "{id}", "batch", "a", "b", "ab"}
	methods   = []string{"get", "post", "put", "patch", "delete"}
)

func (randomDoc) Generate(r *rand.Rand, size int) reflect.Value {
	doc := &Document{OpenAPI: "3.0.0"}
	for p := 0; p < 1+r.Intn(size+1); p++ {
		var sb strings.Builder
		for s := 0; s < 1+r.Intn(3); s++ {
			sb.WriteString("/" + segments[r.Intn(len(segments))])
		}
		item := PathItem{Path: sb.String()}
		for _, m := range methods {
			if r.Intn(2) == 0 {
				continue
			}
			op := Operation{Method: m}
			if r.Intn(3) == 0 {
				op.OperationID = "op" + propNames[r.Intn(2)]
			}
			for i := 0; i < r.Intn(3); i++ {
				op.Parameters = append(op.Parameters, &Parameter{
					Name:     propNames[r.Intn(len(propNames))],
					In:       []string{"path", "query", "header"}[r.Intn(3)],
					Required: r.Intn(2) == 0,
					Schema:   &Schema{Type: SchemaType(propTypes[r.Intn(len(propTypes))])},
				})
			}
			if r.Intn(2) == 0 {
				body := &Schema{Type: "object"}
				for i := 0; i < r.Intn(4); i++ {
					name := propNames[r.Intn(len(propNames))]
					body.Properties = append(body.Properties, NamedSchema{
						Name:   name,
						Schema: &Schema{Type: SchemaType(propTypes[r.Intn(len(propTypes))])},
					})
				}
				for i := 0; i < r.Intn(4); i++ {
					body.Required = append(body.Required, propNames[r.Intn(len(propNames))])
				}
				op.RequestBody = &RequestBody{Content: map[string]MediaType{jsonContentType: {Schema: body}}}
			}
			item.Operations = append(item.Operations, op)
		}
		doc.Paths = append(doc.Paths, item)
	}
	return reflect.ValueOf(randomDoc{doc: doc})
}

func TestNormalize_Property_RequiredSubsetOfProperties(t *testing.T) {
	f := func(rd randomDoc) bool {
		defs, _ := Normalize(rd.doc)
		for _, d := range defs {
			if err := d.Check(); err != nil {
				t.Log(err)
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestNormalize_Property_UniqueAndDeterministicNames(t *testing.T) {
	f := func(rd randomDoc) bool {
		first, _ := Normalize(rd.doc)
		second, _ := Normalize(rd.doc)
		if len(first) != len(second) {
			return false
		}
		seen := make(map[string]bool, len(first))
		for i := range first {
			if first[i].Name != second[i].Name || seen[first[i].Name] {
				return false
			}
			seen[first[i].Name] = true
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func BenchmarkNormalize_TodoDocument(b *testing.B) {
	doc, err := Load("testdata/todos.yaml")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Normalize(doc)
	}
}
