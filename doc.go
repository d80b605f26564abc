// Package clusterenv starts layered clusters for integration tests: a
// coordination service, a broker cluster registered in it and a worker
// cluster bootstrapped against the brokers.
//
// Every tier is either local, started by the test process on ports it
// reserves, or external, attached to an existing deployment by its
// connection descriptor (a comma-separated host:port list). Local tiers run
// small in-process services by default; WithCommand runs a real binary per
// instance instead.
//
// # Basic Usage
//
//	import "github.com/giantswarm/clusterenv"
//
//	ctx := context.Background()
//
//	coord, err := clusterenv.NewLocalCoordination(ctx, clusterenv.AnyPorts(1))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Close()
//
//	brokers, err := clusterenv.NewLocalBrokers(ctx, clusterenv.Use(coord), []int{0, 0, 0})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer brokers.Close()
//
//	fmt.Println(brokers.ConnectionProps()) // 127.0.0.1:41233,127.0.0.1:38411,127.0.0.1:45021
//
// # Dependencies
//
// A tier above coordination takes its lower tier as a Dependency. Use
// borrows a cluster the caller keeps closing. Provide builds one lazily;
// the tier that built it closes it after its own instances:
//
//	brokers, err := clusterenv.NewLocalBrokers(ctx,
//	    clusterenv.Provide(func() (*clusterenv.Coordination, error) {
//	        return clusterenv.NewLocalCoordination(ctx, clusterenv.AnyPorts(1))
//	    }),
//	    clusterenv.AnyPorts(1))
//	defer brokers.Close() // also closes the coordination it created
//
// Arguments are always validated before a provider runs: a call rejected
// with ErrInvalidArgument never invokes its provider.
//
// # Reusing a Running Stack
//
// CoordinationFromEnv, BrokersFromEnv and WorkersFromEnv attach to the
// deployments named by CLUSTERENV_COORDINATION, CLUSTERENV_BROKERS and
// CLUSTERENV_WORKERS when set, and start local tiers otherwise. The
// clusterenv command prints these variables for a stack it keeps running.
//
// # Errors
//
// Construction fails with ErrInvalidArgument for bad input, before any
// resource is touched, or with a *StartupError (matching ErrStartup) after
// rolling back everything it created. Close is idempotent; its error
// matches ErrShutdown and is returned only after every cleanup step ran.
package clusterenv
