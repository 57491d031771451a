// Command test-authorize sends one token to a running authorizer and prints
// the decision.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	httpclient "github.com/astro-web3/apigw-token-authorizer/pkg/http"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "authorizer base URL")
	arn := flag.String("arn", "arn:aws:execute-api:eu-west-1:123456789012:api/test/GET/", "method ARN to authorize")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatalf("Usage: %s [-addr url] [-arn methodArn] <token>", os.Args[0])
	}

	client := httpclient.NewClient(httpclient.WithTimeout(10 * time.Second))
	resp, err := client.Post(context.Background(), *addr+"/v1/authorize",
		httpclient.WithJSONBody(authz.AuthorizationRequest{
			Token:       "Bearer " + flag.Arg(0),
			ResourceARN: *arn,
		}),
	)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}

	if resp.IsError() {
		fmt.Printf("Authorizer returned %s\n%s\n", resp.Status(), resp.Body())
		os.Exit(1)
	}

	var decision authz.Decision
	if err := json.Unmarshal(resp.Body(), &decision); err != nil {
		log.Fatalf("Failed to decode decision: %v", err)
	}

	if decision.Allowed() {
		fmt.Printf("ALLOW principal=%q\n", decision.PrincipalID)
	} else {
		fmt.Println("DENY")
	}

	pretty, _ := json.MarshalIndent(decision, "", "  ")
	fmt.Println(string(pretty))
}
