// Package schema adapts JSON-Schema validators to the contract the dispatch
// engine needs: validate raw tool arguments into a typed value, and describe
// the accepted shape for tools/list.
//
// Two adapters are provided. Compile accepts a hand-written JSON-Schema
// document and hands back the decoded JSON value. For reflects a Go struct
// and hands back a populated value of that type:
//
//	type echoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo back"`
//	}
//	s := schema.For[echoArgs]()
//	v, err := s.Validate(ctx, json.RawMessage(`{"message":"hi"}`))
//	// v.(echoArgs).Message == "hi"
//
// Both adapters validate with github.com/qri-io/jsonschema. Validation
// failures are returned as *ValidationError.
package schema
