package shopify

const findCustomerQuery = `
query FindCustomer($query: String!) {
  customers(first: 1, query: $query) {
    nodes { id email firstName lastName }
  }
}`

const createCustomerMutation = `
mutation CreateCustomer($input: CustomerInput!) {
  customerCreate(input: $input) {
    customer { id email firstName lastName }
    userErrors { field message }
  }
}`

const createDiscountMutation = `
mutation CreateDiscount($basicCodeDiscount: DiscountCodeBasicInput!) {
  discountCodeBasicCreate(basicCodeDiscount: $basicCodeDiscount) {
    codeDiscountNode { id }
    userErrors { field code message }
  }
}`

const updateDiscountMutation = `
mutation UpdateDiscount($id: ID!, $basicCodeDiscount: DiscountCodeBasicInput!) {
  discountCodeBasicUpdate(id: $id, basicCodeDiscount: $basicCodeDiscount) {
    codeDiscountNode { id }
    userErrors { field code message }
  }
}`

const deleteDiscountMutation = `
mutation DeleteDiscount($id: ID!) {
  discountCodeDelete(id: $id) {
    deletedCodeDiscountId
    userErrors { field code message }
  }
}`

const orderQuery = `
query Order($id: ID!) {
  order(id: $id) {
    id
    name
    totalPriceSet { shopMoney { amount currencyCode } }
    lineItems(first: 50) {
      nodes { title quantity product { id title } }
    }
    transactions(first: 50) {
      id kind status gateway
      amountSet { shopMoney { amount currencyCode } }
    }
  }
}`

const refundMutation = `
mutation CreateRefund($input: RefundInput!) {
  refundCreate(input: $input) {
    refund { id }
    userErrors { field message }
  }
}`
