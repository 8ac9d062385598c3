package paxos

// Promise is the Acceptor's reply to Prepare. When Granted is false,
// PromisedBallot carries the acceptor's current highest promise so the
// proposer knows what to beat. When Granted is true and AcceptedValue is
// non-nil, the proposer must adopt that value instead of its own.
type Promise struct {
	Granted        bool
	PromisedBallot BallotNumber
	AcceptedBallot BallotNumber
	AcceptedValue  *Value
}

// Accepted is the Acceptor's reply to Accept.
type Accepted struct {
	Granted        bool
	PromisedBallot BallotNumber
}
