// Command notetree-inspect prints the persisted state of a note tree:
// geometry, sequence number, current root, and the roots still resident in
// its change log.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"github.com/proofbuf/notetree/db"
	"github.com/proofbuf/notetree/tree/concurrent"
)

var (
	dbFile   = flag.String("db", "", "Location of database.")
	treeAddr = flag.String("tree", "", "Hex-encoded address of the tree to inspect.")
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Parse()

	if *dbFile == "" || *treeAddr == "" {
		log.Fatalf("Both --db and --tree must be provided, see --help.")
	}
	raw, err := hex.DecodeString(*treeAddr)
	if err != nil || len(raw) != 32 {
		log.Fatalf("Failed to parse tree address.")
	}
	var addr [32]byte
	copy(addr[:], raw)

	store, err := db.NewLDBTreeStore(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	record, err := store.GetTree(addr)
	if err != nil {
		log.Fatalf("Failed to read tree record: %v", err)
	} else if record == nil {
		log.Fatalf("No tree at this address.")
	}
	tree, err := concurrent.Unmarshal(record)
	if err != nil {
		log.Fatalf("Failed to parse tree record: %v", err)
	}

	fmt.Printf("Tree:        %v\n", *treeAddr)
	fmt.Printf("Depth:       %v\n", tree.Depth())
	fmt.Printf("Buffer Size: %v\n", tree.BufferSize())
	fmt.Printf("Sequence:    %v\n", tree.Seq())
	fmt.Printf("Leaves:      %v / %v\n", tree.LeafCount(), tree.Capacity())
	fmt.Printf("Root:        %x\n", tree.Root())

	fmt.Println("Resident roots (newest first):")
	for i, root := range tree.ResidentRoots() {
		fmt.Printf("  %3d: %x\n", i, root)
	}
}
