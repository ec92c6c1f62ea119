package nr

// TokenPool hands out pre-registered tokens to callers that have no stable
// thread identity of their own, e.g. HTTP handlers. Tokens are spread
// round-robin across replicas at construction time and recycled through a
// buffered channel; Get blocks when every token is checked out.
type TokenPool struct {
    tokens chan Token
}

// NewTokenPool registers size tokens against the engine, distributing them
// across replicas. It fails with ErrRegistrationExhausted if the engine has
// fewer free slots than requested.
func NewTokenPool(eng Engine, replicas int, size int) (*TokenPool, error) {
    if size < 1 { size = 1 }
    p := &TokenPool{tokens: make(chan Token, size)}
    for i := 0; i < size; i++ {
        tok, err := eng.Register(uint32(i % replicas))
        if err != nil { return nil, err }
        p.tokens <- tok
    }
    return p, nil
}

// Get checks a token out of the pool, blocking until one is available.
func (p *TokenPool) Get() Token { return <-p.tokens }

// Put returns a token to the pool.
func (p *TokenPool) Put(tok Token) { p.tokens <- tok }

// Size reports the number of tokens the pool was built with.
func (p *TokenPool) Size() int { return cap(p.tokens) }
