// Command encerramento-cli manages the closure database from a terminal:
// importing the client portfolio, checking company status and listing bots.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/exatta/encerramento/internal/carteira"
	"github.com/exatta/encerramento/internal/cnpj"
	"github.com/exatta/encerramento/internal/core"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/period"
	"github.com/exatta/encerramento/internal/store"
)

var version = "dev"

const usage = `usage: encerramento-cli <command> [arguments]

commands:
  import <carteira.html>        import companies from a saved "Carteira de Clientes" page
  status [-omisso v] [-debito v] [cnpj]
                                show processing status of one or all companies
  periodos <MM/AAAA> <MM/AAAA>  list the periods of a range with their progress
  bots                          list the registered bots
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "import":
		err = withApp(func(app *core.App) error { return runImport(app, args) })
	case "status":
		err = withApp(func(app *core.App) error { return runStatus(app, args) })
	case "bots":
		err = withApp(runBots)
	case "periodos":
		err = runPeriodos(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func withApp(fn func(*core.App) error) error {
	app, err := core.New(version)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func runImport(app *core.App, args []string) error {
	if len(args) != 1 {
		return errors.New("import expects exactly one file")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := carteira.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to read portfolio: %w", err)
	}
	n, err := app.Store().UpsertEmpresas(res.Empresas)
	if err != nil {
		return err
	}
	fmt.Printf("%d empresas importadas, %d linhas ignoradas\n", n, res.Skipped)
	return nil
}

func runStatus(app *core.App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	omisso := fs.String("omisso", "", "filter by the omisso column")
	debito := fs.String("debito", "", "filter by the debito column")
	fs.Parse(args)

	var empresas []*models.Empresa
	if doc := fs.Arg(0); doc != "" {
		e, err := app.Store().GetEmpresa(cnpj.Normalize(doc))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("CNPJ não encontrado: %s", doc)
		}
		if err != nil {
			return err
		}
		empresas = append(empresas, e)
	} else {
		var err error
		empresas, err = app.Store().ListEmpresas(models.EmpresaFilter{Omisso: *omisso, Debito: *debito})
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CNPJ\tNOME\tSTATUS\tPROGRESSO\tATUALIZADO")
	for _, e := range empresas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", cnpj.Format(e.CNPJ), e.Nome, e.Status, e.Progresso,
			e.UltimaAtualizacao.Local().Format("02/01/2006 15:04"))
	}
	return w.Flush()
}

func runBots(app *core.App) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKIND\tVERSION\tENABLED\tNOTE")
	for _, b := range app.Bots().List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", b.Path, b.Kind, b.Version, b.Enabled, b.Reason)
	}
	return w.Flush()
}

func runPeriodos(args []string) error {
	if len(args) != 2 {
		return errors.New("periodos expects an initial and a final period")
	}
	from, err := period.Parse(args[0])
	if err != nil {
		return err
	}
	to, err := period.Parse(args[1])
	if err != nil {
		return err
	}
	periods, err := period.Range(from, to)
	if err != nil {
		return err
	}
	for i, p := range periods {
		fmt.Printf("%s\t%3d%%\n", p.Display(), period.ProgressFor(i+1, len(periods)))
	}
	return nil
}
