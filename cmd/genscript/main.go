package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	"cartsync/internal/cart"
	"cartsync/internal/fixture"
	"cartsync/internal/script"
	"cartsync/internal/session"
)

func main() {
	var (
		sessions    int
		steps       int
		users       int
		seed        int64
		outputFile  string
		fixtureFile string
	)
	flag.IntVar(&sessions, "sessions", 20, "number of sign-in/sign-out cycles")
	flag.IntVar(&steps, "steps", 10, "max cart actions per session")
	flag.IntVar(&users, "users", 3, "distinct identities")
	flag.Int64Var(&seed, "seed", 0, "random seed (0: time based)")
	flag.StringVar(&outputFile, "output", "session.jsonl", "script output file")
	flag.StringVar(&fixtureFile, "fixture", "fixture.json", "fixture output file (empty: skip)")
	flag.Parse()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	products := catalog()

	if fixtureFile != "" {
		if err := writeFixture(fixtureFile, products); err != nil {
			log.Fatalf("fixture failed: %v", err)
		}
	}
	if err := generate(rng, products, sessions, steps, users, outputFile); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

func catalog() []cart.Product {
	return []cart.Product{
		{ID: 1, Title: "Backpack", Category: "bags", Price: cart.MustMoney("109.95")},
		{ID: 2, Title: "Slim Fit T-Shirt", Category: "clothing", Price: cart.MustMoney("22.30")},
		{ID: 3, Title: "Cotton Jacket", Category: "clothing", Price: cart.MustMoney("55.99")},
		{ID: 4, Title: "Bracelet", Category: "jewelery", Price: cart.MustMoney("9.99")},
		{ID: 5, Title: "SSD 1TB", Category: "electronics", Price: cart.MustMoney("109.00")},
	}
}

func writeFixture(path string, products []cart.Product) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(fixture.File{Products: products})
}

// generate writes a script whose expectations come from replaying the same
// actions on a local aggregate. saved tracks what the store should hold per
// user: carts are written after every change while loaded, and on sign-out.
func generate(rng *rand.Rand, products []cart.Product, sessions, maxSteps, users int, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	var out []script.Step
	saved := map[string]cart.Record{}
	local := cart.New()
	yes, no := true, false

	expect := func(authed bool) {
		q := local.TotalQuantity()
		p := local.TotalPrice().String()
		l := local.Loaded()
		out = append(out, script.Step{Op: script.OpExpect, Expect: &script.Expect{
			Authenticated: &authed, TotalQuantity: &q, TotalPrice: &p, Loaded: &l,
		}})
	}

	for i := 0; i < sessions; i++ {
		id := session.Identity{ID: strconv.Itoa(1 + rng.Intn(users))}
		out = append(out, script.Step{Op: script.OpSignIn, Identity: &id, Token: "tok-" + id.ID})
		if rec, ok := saved[id.ID]; ok {
			local.Load(rec)
		} else {
			local.Adopt()
		}
		expect(yes)

		for n := rng.Intn(maxSteps + 1); n > 0; n-- {
			act := randomAction(rng, products, local)
			out = append(out, script.Step{Op: script.OpCart, Action: &act})
			if changed, _ := local.Apply(act); changed && local.Loaded() {
				saved[id.ID] = local.Record()
			}
		}
		if !local.Empty() && rng.Intn(3) == 0 {
			out = append(out, script.Step{Op: script.OpCheckout}, script.Step{Op: script.OpFetchOrders})
			local.Load(cart.Record{})
			saved[id.ID] = local.Record()
		}
		expect(yes)

		out = append(out, script.Step{Op: script.OpSignOut})
		if local.Loaded() {
			saved[id.ID] = local.Record()
		}
		local = cart.New()
		expect(no)
	}

	if err := script.Encode(file, out); err != nil {
		return err
	}
	log.Printf("generated %d steps (%d sessions) to %s", len(out), sessions, outputFile)
	return nil
}

func randomAction(rng *rand.Rand, products []cart.Product, local *cart.Aggregate) cart.Action {
	lines := local.Lines()
	switch r := rng.Intn(10); {
	case r < 5 || len(lines) == 0:
		return cart.Action{Kind: cart.ActionAdd, Product: products[rng.Intn(len(products))]}
	case r < 7:
		return cart.Action{Kind: cart.ActionIncrease, ProductID: lines[rng.Intn(len(lines))].Product.ID}
	case r < 9:
		return cart.Action{Kind: cart.ActionDecrease, ProductID: lines[rng.Intn(len(lines))].Product.ID}
	default:
		return cart.Action{Kind: cart.ActionClear}
	}
}
