// weaverctl is a small demo entrypoint exercising the storage and
// query engine end to end: create a table, insert a handful of rows,
// and run a filtered scan through the optimizer and executor.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/weaverdb/weaver/pkg/catalog"
	"github.com/weaverdb/weaver/pkg/engine"
	"github.com/weaverdb/weaver/pkg/log"
	"github.com/weaverdb/weaver/pkg/query/exec"
	"github.com/weaverdb/weaver/pkg/query/plan"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/storage/pager"
	"github.com/weaverdb/weaver/pkg/types"
)

func main() {
	var (
		dataDir  = flag.String("data-dir", "", "directory to persist table files in; empty means in-memory")
		jsonLogs = flag.Bool("json-logs", false, "emit logs as JSON instead of console format")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log.Init(log.Config{Level: log.Level(*logLevel), JSONOutput: *jsonLogs})

	if err := run(*dataDir); err != nil {
		log.Errorf("weaverctl failed", err)
		os.Exit(1)
	}
}

func run(dataDir string) error {
	cat := catalog.New(pager.DefaultPageSize, dataDir)

	sch, err := schema.New("main", "people",
		[]schema.Column{
			{Name: "name", Type: schema.TypeString, NonNull: true, MaxLen: 128},
			{Name: "age", Type: schema.TypeInt, NonNull: true},
		},
		nil, false,
	)
	if err != nil {
		return err
	}
	if err := cat.CreateTable(sch); err != nil {
		return err
	}

	t, err := cat.Table("main", "people")
	if err != nil {
		return err
	}

	seed := []struct {
		name string
		age  int64
	}{
		{"ada", 36}, {"alan", 41}, {"grace", 85}, {"katherine", 33},
	}
	for _, s := range seed {
		row := types.Row{types.String(s.name), types.Int(s.age)}
		if err := t.Insert(nil, row); err != nil {
			return err
		}
	}

	eng := engine.New(cat)

	scan := plan.TableScan(1, "main", "people", t.Schema().PublicColumns, int64(len(seed)), 1.0)
	predicate := exec.Binary(exec.OpGt, exec.Column("age"), exec.Lit(types.Int(35)))
	filtered := plan.NewFilter(2, scan, *predicate, 1.0)

	result, err := eng.Run(filtered, nil)
	if err != nil {
		return err
	}
	for _, row := range result.Rows {
		fmt.Println(formatRow(row))
	}
	return nil
}

func formatRow(row types.Row) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\t")
}
